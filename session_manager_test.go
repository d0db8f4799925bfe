package auth_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/dudleytown/crypt-auth"
)

func newManager(provider auth.IdentityProvider, store auth.DocumentStore) *auth.SessionManager {
	return auth.NewSessionManager(provider, store).WithLogger(quietLogger())
}

func TestSessionManager_StartsLoadingAndSettlesSignedOut(t *testing.T) {
	m := newManager(newFakeProvider(), auth.NewMemoryDocumentStore())

	initial := m.Current()
	assert.True(t, initial.Loading)
	assert.Equal(t, auth.GuardIndeterminate, auth.Evaluate(initial.Loading, initial.Profile, nil))

	startManager(t, m)
	s := waitFor(t, m, ready)

	assert.Nil(t, s.Identity)
	assert.Nil(t, s.Profile)
	assert.False(t, s.Authenticated())
	assert.Equal(t, auth.GuardDeniedUnauthenticated, auth.Evaluate(s.Loading, s.Profile, nil))
}

func TestSessionManager_SignInResolvesProfile(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	subject := provider.addAccount("sales@example.com", "secret1")
	putProfile(t, store, subject, "sales@example.com", auth.RoleSales)

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)

	require.NoError(t, m.SignIn(context.Background(), "sales@example.com", "secret1"))

	s := waitFor(t, m, func(s auth.Session) bool {
		return !s.Loading && s.Profile != nil
	})
	assert.Equal(t, subject, s.Subject())
	assert.Equal(t, auth.RoleSales, s.Role())
	assert.Equal(t, auth.GuardGranted, auth.Evaluate(s.Loading, s.Profile, auth.AllowRoles(auth.RoleSales, auth.RoleAdmin)))
	assert.Equal(t, auth.GuardDeniedForbidden, auth.Evaluate(s.Loading, s.Profile, auth.AllowRoles(auth.RoleProduction)))

	doc, err := store.GetDocument(context.Background(), auth.UsersCollection, subject)
	require.NoError(t, err)
	assert.Contains(t, doc, "lastLoginAt")
}

func TestSessionManager_WaitReadyRightAfterSignInGrants(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	subject := provider.addAccount("sales@example.com", "secret1")
	putProfile(t, store, subject, "sales@example.com", auth.RoleSales)

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)

	guard := auth.NewRouteGuard(auth.AllowRoles(auth.RoleSales))
	for i := 0; i < 20; i++ {
		require.NoError(t, m.SignIn(context.Background(), "sales@example.com", "secret1"))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s, err := m.WaitReady(ctx)
		cancel()
		require.NoError(t, err)

		d := guard.Decide(s)
		require.Equal(t, auth.GuardGranted, d.State, "iteration %d", i)
		assert.Equal(t, subject, s.Subject())

		require.NoError(t, m.SignOut(context.Background()))
		require.Equal(t, auth.GuardDeniedUnauthenticated, guard.Decide(m.Current()).State)
	}
}

func TestSessionManager_SignInFailureKeepsSessionSignedOut(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("sales@example.com", "secret1")
	sink := &recordingSink{}

	m := startManager(t, newManager(provider, auth.NewMemoryDocumentStore()).WithActivitySink(sink))
	waitFor(t, m, ready)

	err := m.SignIn(context.Background(), "sales@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
	assert.Equal(t, auth.MessageInvalidCredentials, auth.SignInMessage(err))

	s := m.Current()
	assert.Nil(t, s.Identity)
	assert.Nil(t, s.Profile)
	assert.Contains(t, sink.types(), auth.ActivityEventLoginFailure)
}

func TestSessionManager_MissingProfileFailsClosed(t *testing.T) {
	provider := newFakeProvider()
	subject := provider.addAccount("ghost@example.com", "secret1")

	m := startManager(t, newManager(provider, auth.NewMemoryDocumentStore()))
	waitFor(t, m, ready)

	require.NoError(t, m.SignIn(context.Background(), "ghost@example.com", "secret1"))

	s := waitFor(t, m, func(s auth.Session) bool {
		return !s.Loading && s.Identity != nil
	})
	assert.Equal(t, subject, s.Identity.Subject)
	assert.Nil(t, s.Profile)
	assert.Equal(t, auth.GuardDeniedUnauthenticated, auth.Evaluate(s.Loading, s.Profile, nil))
}

func TestSessionManager_LastLoginStubIsNotAProfile(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	provider.addAccount("stub@example.com", "secret1")

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)

	// sign in merges lastLoginAt into an absent document
	require.NoError(t, m.SignIn(context.Background(), "stub@example.com", "secret1"))
	waitFor(t, m, func(s auth.Session) bool { return !s.Loading && s.Identity != nil })

	// a later re-resolution must still find no profile
	s := m.Current()
	_, err := store.GetDocument(context.Background(), auth.UsersCollection, s.Identity.Subject)
	require.NoError(t, err)
	assert.Nil(t, s.Profile)
}

func TestSessionManager_InactiveProfileFailsClosed(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	subject := provider.addAccount("old@example.com", "secret1")
	p := putProfile(t, store, subject, "old@example.com", auth.RoleAdmin)
	p.IsActive = false
	require.NoError(t, store.SetDocument(context.Background(), auth.UsersCollection, subject, p.Document()))

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)
	require.NoError(t, m.SignIn(context.Background(), "old@example.com", "secret1"))

	s := waitFor(t, m, func(s auth.Session) bool { return !s.Loading && s.Identity != nil })
	assert.Nil(t, s.Profile)
	assert.False(t, s.IsAdmin())
}

func TestSessionManager_SignOutIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	subject := provider.addAccount("admin@example.com", "secret1")
	putProfile(t, store, subject, "admin@example.com", auth.RoleAdmin)
	sink := &recordingSink{}

	m := startManager(t, newManager(provider, store).WithActivitySink(sink))
	waitFor(t, m, ready)
	require.NoError(t, m.SignIn(context.Background(), "admin@example.com", "secret1"))
	waitFor(t, m, func(s auth.Session) bool { return s.Profile != nil })

	require.NoError(t, m.SignOut(context.Background()))
	s := m.Current()
	assert.Nil(t, s.Identity)
	assert.Nil(t, s.Profile)

	require.NoError(t, m.SignOut(context.Background()))
	s = waitFor(t, m, ready)
	assert.Nil(t, s.Profile)
	assert.Equal(t, auth.GuardDeniedUnauthenticated, auth.Evaluate(s.Loading, s.Profile, nil))

	assert.Contains(t, sink.types(), auth.ActivityEventLogout)
}

func TestSessionManager_SignOutProviderErrorIsSwallowed(t *testing.T) {
	provider := newFakeProvider()
	provider.signOutErr = auth.ErrInvalidToken

	m := startManager(t, newManager(provider, auth.NewMemoryDocumentStore()))
	waitFor(t, m, ready)

	assert.NoError(t, m.SignOut(context.Background()))
}

func TestSessionManager_NewerIdentitySupersedesResolution(t *testing.T) {
	provider := newFakeProvider()
	store := newGatedStore()
	slow := provider.addAccount("slow@example.com", "secret1")
	fast := provider.addAccount("fast@example.com", "secret1")
	putProfile(t, store, slow, "slow@example.com", auth.RoleAdmin)
	putProfile(t, store, fast, "fast@example.com", auth.RoleSales)

	release := store.gate(slow)
	defer release()

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)

	provider.emit(provider.handle(slow, "slow@example.com"), auth.ChangeSignIn)
	waitFor(t, m, func(s auth.Session) bool {
		return s.Loading && s.Identity != nil && s.Identity.Subject == slow
	})

	provider.emit(provider.handle(fast, "fast@example.com"), auth.ChangeSignIn)
	s := waitFor(t, m, func(s auth.Session) bool { return !s.Loading && s.Profile != nil })
	assert.Equal(t, fast, s.Subject())
	assert.Equal(t, auth.RoleSales, s.Role())

	release()
	time.Sleep(50 * time.Millisecond)

	s = m.Current()
	assert.False(t, s.Loading)
	assert.Equal(t, fast, s.Profile.ID)
	assert.Equal(t, auth.RoleSales, s.Role())
}

func TestSessionManager_SignOutDuringResolutionNeverGrants(t *testing.T) {
	provider := newFakeProvider()
	store := newGatedStore()
	subject := provider.addAccount("admin@example.com", "secret1")
	putProfile(t, store, subject, "admin@example.com", auth.RoleAdmin)

	release := store.gate(subject)
	defer release()

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)

	provider.emit(provider.handle(subject, "admin@example.com"), auth.ChangeSignIn)
	waitFor(t, m, func(s auth.Session) bool { return s.Identity != nil && s.Loading })

	require.NoError(t, m.SignOut(context.Background()))
	release()

	waitFor(t, m, ready)
	time.Sleep(50 * time.Millisecond)
	s := m.Current()

	assert.Nil(t, s.Identity)
	assert.Nil(t, s.Profile)
	assert.Equal(t, auth.GuardDeniedUnauthenticated, auth.Evaluate(s.Loading, s.Profile, auth.AllowRoles(auth.RoleAdmin)))
}

func TestSessionManager_WatchSeesLoadingBeforeProfile(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	subject := provider.addAccount("prod@example.com", "secret1")
	putProfile(t, store, subject, "prod@example.com", auth.RoleProduction)

	m := startManager(t, newManager(provider, store))
	waitFor(t, m, ready)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guard := auth.NewRouteGuard(auth.AllowRoles(auth.RoleProduction))
	decisions := guard.Track(ctx, m)

	first := <-decisions
	assert.Equal(t, auth.GuardDeniedUnauthenticated, first.State)
	assert.Equal(t, auth.DefaultLoginPath, first.Redirect)

	require.NoError(t, m.SignIn(context.Background(), "prod@example.com", "secret1"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case d := <-decisions:
			if d.State == auth.GuardDeniedUnauthenticated {
				t.Fatalf("signed in user redirected to login: %+v", d)
			}
			if d.Granted() {
				return
			}
		case <-deadline:
			t.Fatal("never granted")
		}
	}
}

func TestSessionManager_CloseTearsDown(t *testing.T) {
	provider := newFakeProvider()
	m := newManager(provider, auth.NewMemoryDocumentStore())
	require.NoError(t, m.Start(context.Background()))
	waitFor(t, m, ready)

	watch := m.Watch(context.Background())
	<-watch

	require.Equal(t, 1, provider.listenerCount())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, 0, provider.listenerCount())

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}

	for range watch {
	}

	before := m.Current()
	provider.emit(provider.handle("late", "late@example.com"), auth.ChangeSignIn)
	assert.Equal(t, before.Version, m.Current().Version)

	err := m.SignIn(context.Background(), "late@example.com", "secret1")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeSessionClosed))
	assert.True(t, auth.HasTextCode(m.Start(context.Background()), auth.TextCodeSessionClosed))
}

func TestSessionManager_StartTwice(t *testing.T) {
	m := startManager(t, newManager(newFakeProvider(), auth.NewMemoryDocumentStore()))
	err := m.Start(context.Background())
	assert.True(t, auth.HasTextCode(err, auth.TextCodeSessionStarted))
}

func TestSessionManager_CreateUserThenSignIn(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	sink := &recordingSink{}

	m := startManager(t, newManager(provider, store).WithActivitySink(sink))
	waitFor(t, m, ready)

	profile, err := m.CreateUser(context.Background(), "brewer@example.com", "secret1", "  Head Brewer ", auth.RoleProduction)
	require.NoError(t, err)
	assert.Equal(t, "Head Brewer", profile.DisplayName)
	assert.True(t, profile.IsActive)
	assert.Equal(t, auth.RoleProduction, profile.Role)

	// provisioning does not sign anyone in
	assert.Nil(t, m.Current().Identity)

	require.NoError(t, m.SignIn(context.Background(), "brewer@example.com", "secret1"))
	s := waitFor(t, m, func(s auth.Session) bool { return !s.Loading && s.Profile != nil })
	assert.Equal(t, profile.ID, s.Subject())
	assert.Equal(t, auth.RoleProduction, s.Role())
	assert.Contains(t, sink.types(), auth.ActivityEventUserProvisioned)
}

func TestSessionManager_CreateUserValidation(t *testing.T) {
	m := startManager(t, newManager(newFakeProvider(), auth.NewMemoryDocumentStore()))

	_, err := m.CreateUser(context.Background(), "a@example.com", "secret1", "A", auth.UserRole("brewmaster"))
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidRole))
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Contains(t, richErr.Metadata["reason"], "must be admin, sales or production")

	_, err = m.CreateUser(context.Background(), "a@example.com", "secret1", "   ", auth.RoleSales)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidDisplayName))

	_, err = m.CreateUser(context.Background(), "a@example.com", "secret1", "A", auth.RoleSales)
	require.NoError(t, err)
	_, err = m.CreateUser(context.Background(), "a@example.com", "secret1", "A", auth.RoleSales)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountAlreadyExists))
	assert.Equal(t, auth.MessageEmailInUse, auth.CreateUserMessage(err))
}

func TestSessionManager_CreateUserPartialFailure(t *testing.T) {
	cases := []struct {
		name     string
		rollback bool
	}{
		{name: "orphan left in place", rollback: false},
		{name: "orphan rolled back", rollback: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newFakeProvider()
			store := newGatedStore()
			store.failWrites(goerrors.New("disk full", goerrors.CategoryOperation))

			m := startManager(t, newManager(provider, store).WithProvisioningRollback(tc.rollback))

			profile, err := m.CreateUser(context.Background(), "orphan@example.com", "secret1", "Orphan", auth.RoleSales)
			require.Error(t, err)
			assert.Nil(t, profile)
			assert.True(t, auth.HasTextCode(err, auth.TextCodeProvisioningPartial))

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			subject, _ := richErr.Metadata["subject"].(string)
			assert.NotEmpty(t, subject)
			assert.Equal(t, "orphan@example.com", richErr.Metadata["email"])

			if tc.rollback {
				assert.Equal(t, true, richErr.Metadata["rolled_back"])
				assert.Contains(t, provider.deleted, subject)
			} else {
				assert.NotContains(t, richErr.Metadata, "rolled_back")
				assert.Empty(t, provider.deleted)
			}
		})
	}
}

func TestSessionManager_LiveProfileRevocation(t *testing.T) {
	provider := newFakeProvider()
	store := auth.NewMemoryDocumentStore()
	subject := provider.addAccount("sales@example.com", "secret1")
	putProfile(t, store, subject, "sales@example.com", auth.RoleSales)

	m := startManager(t, newManager(provider, store).WithLiveProfileRevocation(true))
	waitFor(t, m, ready)
	require.NoError(t, m.SignIn(context.Background(), "sales@example.com", "secret1"))
	waitFor(t, m, func(s auth.Session) bool { return s.Profile != nil && !s.Loading })

	require.NoError(t, store.SetDocument(context.Background(), auth.UsersCollection, subject, auth.Document{
		"role": string(auth.RoleAdmin),
	}, auth.Merge()))
	s := waitFor(t, m, func(s auth.Session) bool { return s.Role() == auth.RoleAdmin })
	assert.True(t, s.IsAdmin())

	require.NoError(t, store.SetDocument(context.Background(), auth.UsersCollection, subject, auth.Document{
		"isActive": false,
	}, auth.Merge()))
	s = waitFor(t, m, func(s auth.Session) bool { return !s.Loading && s.Profile == nil })
	assert.NotNil(t, s.Identity)
}

func TestSessionManager_ContextCancelStopsResolution(t *testing.T) {
	provider := newFakeProvider()
	store := newGatedStore()
	subject := provider.addAccount("sales@example.com", "secret1")
	putProfile(t, store, subject, "sales@example.com", auth.RoleSales)

	ctx, cancel := context.WithCancel(context.Background())
	m := newManager(provider, store)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Close() })
	waitFor(t, m, ready)

	release := store.gate(subject)
	defer release()

	provider.emit(provider.handle(subject, "sales@example.com"), auth.ChangeSignIn)
	waitFor(t, m, func(s auth.Session) bool { return s.Loading && s.Identity != nil })

	// canceling the manager context aborts the read; nothing is granted
	cancel()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Nil(t, m.Current().Profile)
}
