package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/dudleytown/crypt-auth"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []auth.IdentityChange
}

func (r *changeRecorder) record(c auth.IdentityChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) reasons() []auth.ChangeReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ChangeReason, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Reason)
	}
	return out
}

func TestIdentityClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, newTestDB(t))
	client := auth.NewIdentityClient(backend)

	rec := &changeRecorder{}
	unsub := client.OnIdentityChange(rec.record)
	defer unsub()

	require.Equal(t, []auth.ChangeReason{auth.ChangeInitial}, rec.reasons())
	assert.Nil(t, rec.changes[0].Identity)

	created, err := client.CreateIdentity(ctx, "brewer@example.com", "secret1")
	require.NoError(t, err)
	assert.Empty(t, created.Token)
	assert.Nil(t, client.Current(), "creating an identity does not sign in")

	require.NoError(t, client.SetPersistenceMode(auth.PersistenceSessionOnly))
	identity, err := client.VerifyCredentials(ctx, "brewer@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.Subject, identity.Subject)
	assert.Equal(t, auth.PersistenceSessionOnly, identity.Persistence)
	assert.NotEmpty(t, identity.Token)

	require.NoError(t, client.SignOut(ctx))
	require.NoError(t, client.SignOut(ctx))
	assert.Nil(t, client.Current())

	assert.Equal(t, []auth.ChangeReason{
		auth.ChangeInitial,
		auth.ChangeSignIn,
		auth.ChangeSignOut,
		auth.ChangeSignOut,
	}, rec.reasons())
}

func TestIdentityClient_InvalidPersistenceMode(t *testing.T) {
	client := auth.NewIdentityClient(newTestBackend(t, newTestDB(t)))
	err := client.SetPersistenceMode(auth.PersistenceMode("local"))
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidPersistenceMode))
}

func TestIdentityClient_RestoreFromToken(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, newTestDB(t))

	first := auth.NewIdentityClient(backend)
	_, err := first.CreateIdentity(ctx, "durable@example.com", "secret1")
	require.NoError(t, err)
	identity, err := first.VerifyCredentials(ctx, "durable@example.com", "secret1")
	require.NoError(t, err)

	second := auth.NewIdentityClient(backend)
	restored, err := second.Restore(ctx, identity.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.Subject, restored.Subject)
	assert.Equal(t, auth.PersistenceDurable, restored.Persistence)
	assert.Equal(t, identity.Subject, second.Current().Subject)

	t.Run("deleted identity cannot be restored", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, identity.Subject))
		_, err := auth.NewIdentityClient(backend).Restore(ctx, identity.Token)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeUnknownAccount))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := auth.NewIdentityClient(backend).Restore(ctx, "garbage")
		assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidToken))
	})
}

func TestIdentityClient_Refresh(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, newTestDB(t))
	client := auth.NewIdentityClient(backend)

	_, err := client.Refresh(ctx, time.Hour)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidToken))

	_, err = client.CreateIdentity(ctx, "r@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, client.SetPersistenceMode(auth.PersistenceSessionOnly))
	identity, err := client.VerifyCredentials(ctx, "r@example.com", "secret1")
	require.NoError(t, err)

	same, err := client.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, identity.Token, same.Token, "far from expiry keeps the token")

	rec := &changeRecorder{}
	defer client.OnIdentityChange(rec.record)()

	fresh, err := client.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, identity.Subject, fresh.Subject)
	assert.NotEqual(t, identity.Token, fresh.Token)
	assert.Contains(t, rec.reasons(), auth.ChangeRefresh)
}

func TestIdentityClient_DeleteCurrentIdentitySignsOut(t *testing.T) {
	ctx := context.Background()
	client := auth.NewIdentityClient(newTestBackend(t, newTestDB(t)))

	_, err := client.CreateIdentity(ctx, "d@example.com", "secret1")
	require.NoError(t, err)
	identity, err := client.VerifyCredentials(ctx, "d@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, client.DeleteIdentity(ctx, identity.Subject))
	assert.Nil(t, client.Current())
}
