package errcode

// Codes carried in the "code" field of the response envelope. Zero is
// success; the values are part of the public API and only ever appended.
const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrAIUnavailable
	ErrRetrieval
	ErrDependency
)

var messages = map[int]string{
	ErrUnknown:       "unknown error",
	ErrUnauthorized:  "unauthorized",
	ErrForbidden:     "forbidden",
	ErrNotFound:      "not found",
	ErrInvalid:       "invalid request",
	ErrConflict:      "conflict",
	ErrTooMany:       "too many requests",
	ErrInternal:      "internal error",
	ErrAIUnavailable: "ai not configured",
	ErrRetrieval:     "similar content unavailable",
	ErrDependency:    "dependency unavailable",
}

// Message is the default client facing text for a code.
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[ErrUnknown]
}
