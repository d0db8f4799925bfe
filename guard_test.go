package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/dudleytown/crypt-auth"
)

func profileWithRole(role auth.UserRole) *auth.UserProfile {
	return auth.NewUserProfile("s1", "u@example.com", "User", role, time.Now())
}

func TestEvaluate(t *testing.T) {
	sales := auth.AllowRoles(auth.RoleSales, auth.RoleAdmin)

	tests := []struct {
		name    string
		loading bool
		profile *auth.UserProfile
		allow   *auth.AllowList
		want    auth.GuardState
	}{
		{"loading wins over everything", true, profileWithRole(auth.RoleAdmin), sales, auth.GuardIndeterminate},
		{"loading without profile", true, nil, nil, auth.GuardIndeterminate},
		{"no profile", false, nil, sales, auth.GuardDeniedUnauthenticated},
		{"no profile without allow list", false, nil, nil, auth.GuardDeniedUnauthenticated},
		{"role not allowed", false, profileWithRole(auth.RoleProduction), sales, auth.GuardDeniedForbidden},
		{"role allowed", false, profileWithRole(auth.RoleSales), sales, auth.GuardGranted},
		{"admin allowed", false, profileWithRole(auth.RoleAdmin), sales, auth.GuardGranted},
		{"nil allow list admits any role", false, profileWithRole(auth.RoleProduction), nil, auth.GuardGranted},
		{"empty allow list admits nobody", false, profileWithRole(auth.RoleAdmin), auth.AllowRoles(), auth.GuardDeniedForbidden},
		{"unknown role never matches", false, profileWithRole(auth.UserRole("Admin")), auth.AllowRoles(auth.RoleAdmin), auth.GuardDeniedForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.Evaluate(tt.loading, tt.profile, tt.allow))
		})
	}
}

func TestGuardState_String(t *testing.T) {
	assert.Equal(t, "INDETERMINATE", auth.GuardIndeterminate.String())
	assert.Equal(t, "DENIED_UNAUTHENTICATED", auth.GuardDeniedUnauthenticated.String())
	assert.Equal(t, "DENIED_FORBIDDEN", auth.GuardDeniedForbidden.String())
	assert.Equal(t, "GRANTED", auth.GuardGranted.String())
	assert.Equal(t, "GuardState(9)", auth.GuardState(9).String())

	assert.False(t, auth.GuardIndeterminate.Terminal())
	assert.True(t, auth.GuardGranted.Terminal())
}

func TestAllowList_Roles(t *testing.T) {
	var none *auth.AllowList
	assert.Nil(t, none.Roles())
	assert.True(t, none.Allows(auth.UserRole("anything")))

	allow := auth.AllowRoles(auth.RoleSales)
	roles := allow.Roles()
	roles[0] = auth.RoleAdmin
	assert.Equal(t, []auth.UserRole{auth.RoleSales}, allow.Roles())
}

func TestRouteGuard_Decide(t *testing.T) {
	guard := auth.NewRouteGuard(auth.AllowRoles(auth.RoleProduction))

	d := guard.Decide(auth.Session{Loading: true})
	assert.Equal(t, auth.Decision{State: auth.GuardIndeterminate}, d)

	d = guard.Decide(auth.Session{})
	assert.Equal(t, auth.Decision{State: auth.GuardDeniedUnauthenticated, Redirect: "/login"}, d)

	d = guard.Decide(auth.Session{Profile: profileWithRole(auth.RoleSales)})
	assert.Equal(t, auth.Decision{State: auth.GuardDeniedForbidden, Redirect: "/unauthorized"}, d)

	d = guard.Decide(auth.Session{Profile: profileWithRole(auth.RoleProduction)})
	assert.True(t, d.Granted())
	assert.Empty(t, d.Redirect)

	custom := auth.RouteGuard{Allow: auth.AllowRoles(auth.RoleAdmin), LoginPath: "/signin", UnauthorizedPath: "/denied"}
	assert.Equal(t, "/signin", custom.Decide(auth.Session{}).Redirect)
	assert.Equal(t, "/denied", custom.Decide(auth.Session{Profile: profileWithRole(auth.RoleSales)}).Redirect)
}

type chanSource struct {
	ch chan auth.Session
}

func (s chanSource) Watch(ctx context.Context) <-chan auth.Session {
	return s.ch
}

func TestRouteGuard_TrackEmitsDistinctDecisions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := chanSource{ch: make(chan auth.Session, 8)}
	decisions := auth.NewRouteGuard(auth.AllowRoles(auth.RoleSales)).Track(ctx, source)

	source.ch <- auth.Session{Loading: true}
	source.ch <- auth.Session{Loading: true}
	source.ch <- auth.Session{Profile: profileWithRole(auth.RoleSales)}
	source.ch <- auth.Session{}
	close(source.ch)

	var got []auth.GuardState
	for d := range decisions {
		got = append(got, d.State)
	}

	require.Equal(t, []auth.GuardState{
		auth.GuardIndeterminate,
		auth.GuardGranted,
		auth.GuardDeniedUnauthenticated,
	}, got)
}
