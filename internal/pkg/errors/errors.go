package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
	// ErrDependency marks a failing embedding provider, vector store or queue.
	ErrDependency = errors.New("dependency failure")
	// ErrRetrieval is returned when similar content cannot be computed for a request.
	ErrRetrieval = errors.New("retrieval failed")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

func IsDependency(err error) bool {
	return errors.Is(err, ErrDependency)
}
