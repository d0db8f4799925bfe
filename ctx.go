package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// SessionLocalsKey is the router locals key holding the request Session
const SessionLocalsKey = "session"

var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithSession sets the Session in the given context
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}

// SessionFromContext finds the Session in the context
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(Session)
	return s, ok
}

// GetRouterSession returns the Session stored by the route guard
func GetRouterSession(c router.Context) (Session, bool) {
	s, ok := c.Locals(SessionLocalsKey).(Session)
	return s, ok
}

// Can reports whether the session in ctx passes allow
func Can(ctx context.Context, allow *AllowList) bool {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return false
	}
	return Evaluate(s.Loading, s.Profile, allow) == GuardGranted
}
