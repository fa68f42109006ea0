package ctxutil

import (
	"context"
)

// Detach returns a context that keeps ctx's values and deadline but is not
// cancelled when ctx is. Work shared between callers runs on it so that one
// caller going away does not fail the others.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}
