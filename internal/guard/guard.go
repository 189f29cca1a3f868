// Package guard rejects re-entry into a component on the same call stack.
package guard

import (
	"context"

	"github.com/sells-group/dmrv/internal/apperr"
)

type key string

// Guard marks the context while a component's outward-calling operation is
// running. Re-entering the same component with a marked context fails with
// ReentrantCall.
type Guard struct {
	name string
}

// New returns a guard scoped to the named component.
func New(name string) Guard {
	return Guard{name: name}
}

// Enter returns a marked context, or ReentrantCall if ctx is already marked.
func (g Guard) Enter(ctx context.Context) (context.Context, error) {
	if ctx.Value(key(g.name)) != nil {
		return ctx, apperr.New(apperr.ReentrantCall, g.name, "")
	}
	return context.WithValue(ctx, key(g.name), struct{}{}), nil
}

// Active reports whether ctx is inside the guarded component.
func (g Guard) Active(ctx context.Context) bool {
	return ctx.Value(key(g.name)) != nil
}
