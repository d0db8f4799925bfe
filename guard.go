package auth

import (
	"context"
	"fmt"
)

// GuardState is the outcome of a guarded navigation
type GuardState int

const (
	// GuardIndeterminate means the session is still loading: render a neutral
	// placeholder, never redirect
	GuardIndeterminate GuardState = iota
	GuardDeniedUnauthenticated
	GuardDeniedForbidden
	GuardGranted
)

func (s GuardState) String() string {
	switch s {
	case GuardIndeterminate:
		return "INDETERMINATE"
	case GuardDeniedUnauthenticated:
		return "DENIED_UNAUTHENTICATED"
	case GuardDeniedForbidden:
		return "DENIED_FORBIDDEN"
	case GuardGranted:
		return "GRANTED"
	default:
		return fmt.Sprintf("GuardState(%d)", int(s))
	}
}

// Terminal reports whether the state settles the navigation
func (s GuardState) Terminal() bool {
	return s != GuardIndeterminate
}

// AllowList is the set of roles admitted to a route. A nil *AllowList means
// no role restriction. A configured list with no roles admits nobody.
type AllowList struct {
	roles []UserRole
}

// AllowRoles builds a configured allow list
func AllowRoles(roles ...UserRole) *AllowList {
	out := make([]UserRole, 0, len(roles))
	out = append(out, roles...)
	return &AllowList{roles: out}
}

// Allows reports membership. Unrecognized roles never match.
func (a *AllowList) Allows(role UserRole) bool {
	if a == nil {
		return true
	}
	if !role.IsValid() {
		return false
	}
	for _, r := range a.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Roles returns a copy of the configured roles
func (a *AllowList) Roles() []UserRole {
	if a == nil {
		return nil
	}
	out := make([]UserRole, len(a.roles))
	copy(out, a.roles)
	return out
}

// Evaluate decides a guarded navigation from the three guard inputs
func Evaluate(loading bool, profile *UserProfile, allow *AllowList) GuardState {
	if loading {
		return GuardIndeterminate
	}

	if profile == nil {
		return GuardDeniedUnauthenticated
	}

	if allow != nil && !allow.Allows(profile.Role) {
		return GuardDeniedForbidden
	}

	return GuardGranted
}

// Decision is a guard state plus the navigation it implies
type Decision struct {
	State    GuardState
	Redirect string
}

// Granted is a helper for the common check
func (d Decision) Granted() bool {
	return d.State == GuardGranted
}

const (
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/unauthorized"
	DefaultHomePath         = "/"
)

// RouteGuard applies an allow list to sessions
type RouteGuard struct {
	Allow            *AllowList
	LoginPath        string
	UnauthorizedPath string
}

// NewRouteGuard returns a guard using the default redirect targets
func NewRouteGuard(allow *AllowList) RouteGuard {
	return RouteGuard{
		Allow:            allow,
		LoginPath:        DefaultLoginPath,
		UnauthorizedPath: DefaultUnauthorizedPath,
	}
}

// Decide evaluates the guard for a session snapshot
func (g RouteGuard) Decide(s Session) Decision {
	state := Evaluate(s.Loading, s.Profile, g.Allow)

	switch state {
	case GuardDeniedUnauthenticated:
		return Decision{State: state, Redirect: orDefault(g.LoginPath, DefaultLoginPath)}
	case GuardDeniedForbidden:
		return Decision{State: state, Redirect: orDefault(g.UnauthorizedPath, DefaultUnauthorizedPath)}
	default:
		return Decision{State: state}
	}
}

// SessionSource publishes session snapshots
type SessionSource interface {
	Watch(ctx context.Context) <-chan Session
}

// Track re-evaluates the guard on every session change and emits each
// distinct decision. The channel closes when ctx ends or the source stops.
func (g RouteGuard) Track(ctx context.Context, source SessionSource) <-chan Decision {
	out := make(chan Decision, 1)
	sessions := source.Watch(ctx)

	go func() {
		defer close(out)

		var last *Decision
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-sessions:
				if !ok {
					return
				}
				d := g.Decide(s)
				if last != nil && *last == d {
					continue
				}
				last = &d
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
