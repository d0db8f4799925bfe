package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/dudleytown/crypt-auth"
)

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

// quietLogger accepts every call
func quietLogger() *MockLogger {
	l := &MockLogger{}
	l.On("Debug", mock.Anything, mock.Anything).Maybe()
	l.On("Info", mock.Anything, mock.Anything).Maybe()
	l.On("Warn", mock.Anything, mock.Anything).Maybe()
	l.On("Error", mock.Anything, mock.Anything).Maybe()
	return l
}

func testOptions() auth.Options {
	return auth.Options{
		SigningKey:            "test-signing-key",
		Issuer:                "crypt-test",
		Audience:              []string{"crypt:test"},
		TokenExpiration:       1,
		ExtendedTokenDuration: 48,
		ContextKey:            "crypt_identity",
		SessionCookie:         "crypt_sid",
		RejectedRouteKey:      "crypt_rejected_route",
		LoginPath:             auth.DefaultLoginPath,
		UnauthorizedPath:      auth.DefaultUnauthorizedPath,
		HomePath:              auth.DefaultHomePath,
		MaxLoginAttempts:      3,
		CoolDownPeriod:        time.Hour,
		PasswordMinLength:     6,
		PasswordHashCost:      bcrypt.MinCost,
		SessionIdleTTL:        time.Minute,
		ReadyTimeout:          time.Second,
		LoginRatePerMinute:    100,
		LiveProfileRevocation: true,
		LogLevel:              "error",
	}
}

var dbCounter atomic.Int64

// newTestDB opens a private in-memory sqlite database
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	name := fmt.Sprintf("file:crypt_test_%d?mode=memory&cache=shared", dbCounter.Add(1))
	sqldb, err := sql.Open(sqliteshim.ShimName, name)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newTestBackend(t *testing.T, db *bun.DB) *auth.BunIdentityBackend {
	t.Helper()

	tokens := auth.NewTokenService(testOptions(), quietLogger())
	backend := auth.NewBunIdentityBackend(db, tokens).
		WithLogger(quietLogger()).
		WithHashCost(bcrypt.MinCost).
		WithMaxLoginAttempts(3).
		WithCoolDownPeriod(time.Hour)

	require.NoError(t, backend.CreateSchema(context.Background()))
	return backend
}

func newTestDocumentStore(t *testing.T, db *bun.DB) *auth.BunDocumentStore {
	t.Helper()

	store := auth.NewBunDocumentStore(db).WithLogger(quietLogger())
	require.NoError(t, store.CreateSchema(context.Background()))
	return store
}

type fakeAccount struct {
	subject  string
	password string
}

// fakeProvider is an in-memory IdentityProvider whose transitions tests can
// drive directly
type fakeProvider struct {
	mu        sync.Mutex
	current   *auth.IdentityHandle
	mode      auth.PersistenceMode
	accounts  map[string]fakeAccount
	listeners map[int]func(auth.IdentityChange)
	nextID    int

	emitMu sync.Mutex

	signOutErr error
	deleted    []string
}

var _ auth.IdentityProvider = (*fakeProvider)(nil)
var _ auth.IdentityRemover = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		mode:      auth.PersistenceDurable,
		accounts:  map[string]fakeAccount{},
		listeners: map[int]func(auth.IdentityChange){},
	}
}

func (p *fakeProvider) addAccount(email, password string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	subject := uuid.NewString()
	p.accounts[email] = fakeAccount{subject: subject, password: password}
	return subject
}

func (p *fakeProvider) handle(subject, email string) *auth.IdentityHandle {
	p.mu.Lock()
	mode := p.mode
	p.mu.Unlock()

	now := time.Now()
	return &auth.IdentityHandle{
		Subject:     subject,
		Email:       email,
		Token:       "token-" + subject,
		Persistence: mode,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

// emit transitions to identity and notifies every subscriber
func (p *fakeProvider) emit(identity *auth.IdentityHandle, reason auth.ChangeReason) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.current = identity
	listeners := make([]func(auth.IdentityChange), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(auth.IdentityChange{Identity: identity, Reason: reason})
	}
}

func (p *fakeProvider) VerifyCredentials(ctx context.Context, email, password string) (*auth.IdentityHandle, error) {
	p.mu.Lock()
	account, ok := p.accounts[email]
	p.mu.Unlock()

	if !ok || account.password != password {
		return nil, auth.ErrInvalidCredentials
	}

	h := p.handle(account.subject, email)
	p.emit(h, auth.ChangeSignIn)
	return h, nil
}

func (p *fakeProvider) CreateIdentity(ctx context.Context, email, password string) (*auth.IdentityHandle, error) {
	p.mu.Lock()
	_, exists := p.accounts[email]
	p.mu.Unlock()
	if exists {
		return nil, auth.ErrAccountAlreadyExists
	}

	subject := p.addAccount(email, password)
	h := p.handle(subject, email)
	h.Token = ""
	return h, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.emit(nil, auth.ChangeSignOut)
	return p.signOutErr
}

func (p *fakeProvider) SetPersistenceMode(mode auth.PersistenceMode) error {
	if !mode.IsValid() {
		return auth.ErrInvalidPersistenceMode
	}
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) OnIdentityChange(fn func(auth.IdentityChange)) func() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(auth.IdentityChange{Identity: current, Reason: auth.ChangeInitial})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *fakeProvider) DeleteIdentity(ctx context.Context, subject string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for email, account := range p.accounts {
		if account.subject == subject {
			delete(p.accounts, email)
		}
	}
	p.deleted = append(p.deleted, subject)
	return nil
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// gatedStore wraps a memory store. Reads of a gated id block until the
// gate is released, and full writes can be made to fail.
type gatedStore struct {
	*auth.MemoryDocumentStore

	mu       sync.Mutex
	gates    map[string]chan struct{}
	setErr   error
	getCalls atomic.Int64
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryDocumentStore: auth.NewMemoryDocumentStore(),
		gates:               map[string]chan struct{}{},
	}
}

func (s *gatedStore) gate(id string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

func (s *gatedStore) failWrites(err error) {
	s.mu.Lock()
	s.setErr = err
	s.mu.Unlock()
}

func (s *gatedStore) GetDocument(ctx context.Context, collection, id string) (auth.Document, error) {
	s.getCalls.Add(1)

	s.mu.Lock()
	ch := s.gates[id]
	s.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.MemoryDocumentStore.GetDocument(ctx, collection, id)
}

func (s *gatedStore) SetDocument(ctx context.Context, collection, id string, data auth.Document, opts ...auth.SetOption) error {
	s.mu.Lock()
	err := s.setErr
	s.mu.Unlock()

	if err != nil && len(opts) == 0 {
		return err
	}
	return s.MemoryDocumentStore.SetDocument(ctx, collection, id, data, opts...)
}

// putProfile stores a complete profile document for subject
func putProfile(t *testing.T, store auth.DocumentStore, subject, email string, role auth.UserRole) *auth.UserProfile {
	t.Helper()

	p := auth.NewUserProfile(subject, email, "Test "+string(role), role, time.Now())
	require.NoError(t, store.SetDocument(context.Background(), auth.UsersCollection, subject, p.Document()))
	return p
}

// startManager starts a manager and closes it when the test ends
func startManager(t *testing.T, m *auth.SessionManager) *auth.SessionManager {
	t.Helper()

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		_ = m.Close()
	})
	return m
}

// waitFor polls the manager until cond holds
func waitFor(t *testing.T, m *auth.SessionManager, cond func(auth.Session) bool) auth.Session {
	t.Helper()

	var last auth.Session
	require.Eventually(t, func() bool {
		last = m.Current()
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond, "condition not reached, last session: %+v", last)
	return last
}

func ready(s auth.Session) bool {
	return !s.Loading
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
