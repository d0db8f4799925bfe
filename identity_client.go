package auth

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// IdentityClient is the per client view of a BunIdentityBackend. It holds
// the signed in identity of one browser or process and implements
// IdentityProvider.
type IdentityClient struct {
	backend *BunIdentityBackend

	mu        sync.Mutex
	current   *IdentityHandle
	mode      PersistenceMode
	listeners map[int]func(IdentityChange)
	nextID    int

	// emitMu orders deliveries so a new subscriber sees the current state
	// before any later transition
	emitMu sync.Mutex

	logger Logger
}

var _ IdentityProvider = (*IdentityClient)(nil)
var _ IdentityRemover = (*IdentityClient)(nil)

// NewIdentityClient creates a signed out client
func NewIdentityClient(backend *BunIdentityBackend) *IdentityClient {
	return &IdentityClient{
		backend:   backend,
		mode:      PersistenceDurable,
		listeners: make(map[int]func(IdentityChange)),
		logger:    backend.logger,
	}
}

// Current returns a copy of the signed in identity, or nil
func (c *IdentityClient) Current() *IdentityHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneHandle(c.current)
}

func cloneHandle(h *IdentityHandle) *IdentityHandle {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}

// SetPersistenceMode selects the persistence used by the next sign in
func (c *IdentityClient) SetPersistenceMode(mode PersistenceMode) error {
	if !mode.IsValid() {
		return withMetadata(ErrInvalidPersistenceMode, map[string]any{"mode": string(mode)})
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

// OnIdentityChange registers fn and delivers the current state to it before
// returning
func (c *IdentityClient) OnIdentityChange(fn func(IdentityChange)) func() {
	if fn == nil {
		return func() {}
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	current := cloneHandle(c.current)
	c.mu.Unlock()

	fn(IdentityChange{Identity: current, Reason: ChangeInitial})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// transition swaps the current identity and notifies listeners. Callers
// must not hold c.mu.
func (c *IdentityClient) transition(next *IdentityHandle, reason ChangeReason) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.current = cloneHandle(next)
	listeners := make([]func(IdentityChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(IdentityChange{Identity: cloneHandle(next), Reason: reason})
	}
}

func (c *IdentityClient) issue(subject, email string, mode PersistenceMode) (*IdentityHandle, error) {
	token, exp, err := c.backend.tokens.Issue(subject, email, mode)
	if err != nil {
		return nil, err
	}
	return &IdentityHandle{
		Subject:     subject,
		Email:       email,
		Token:       token,
		Persistence: mode,
		IssuedAt:    c.backend.now(),
		ExpiresAt:   exp,
	}, nil
}

// VerifyCredentials authenticates against the backend and signs the client in
func (c *IdentityClient) VerifyCredentials(ctx context.Context, email, password string) (*IdentityHandle, error) {
	record, err := c.backend.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	handle, err := c.issue(record.ID, record.Email, mode)
	if err != nil {
		return nil, err
	}

	c.transition(handle, ChangeSignIn)
	return cloneHandle(handle), nil
}

// CreateIdentity registers a new identity. The client stays as it was; the
// returned handle carries no token.
func (c *IdentityClient) CreateIdentity(ctx context.Context, email, password string) (*IdentityHandle, error) {
	record, err := c.backend.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return &IdentityHandle{
		Subject:  record.ID,
		Email:    record.Email,
		IssuedAt: record.CreatedAt,
	}, nil
}

// SignOut clears the identity. It always notifies listeners, even when the
// client was already signed out.
func (c *IdentityClient) SignOut(ctx context.Context) error {
	c.transition(nil, ChangeSignOut)
	return nil
}

// Restore signs the client in from a previously issued token
func (c *IdentityClient) Restore(ctx context.Context, token string) (*IdentityHandle, error) {
	claims, err := c.backend.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	ok, err := c.backend.Exists(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, withMetadata(ErrUnknownAccount, map[string]any{"subject": claims.Subject})
	}

	handle := &IdentityHandle{
		Subject:     claims.Subject,
		Email:       claims.Email,
		Token:       token,
		Persistence: claims.Persistence,
	}
	if claims.IssuedAt != nil {
		handle.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		handle.ExpiresAt = claims.ExpiresAt.Time
	}

	c.mu.Lock()
	c.mode = claims.Persistence
	c.mu.Unlock()

	c.transition(handle, ChangeRestore)
	return cloneHandle(handle), nil
}

// Refresh reissues the token of the signed in identity when it expires
// within window
func (c *IdentityClient) Refresh(ctx context.Context, window time.Duration) (*IdentityHandle, error) {
	current := c.Current()
	if current == nil {
		return nil, errors.New("no signed in identity to refresh", errors.CategoryAuth).
			WithTextCode(TextCodeInvalidToken).
			WithCode(errors.CodeUnauthorized)
	}

	if window > 0 && current.ExpiresAt.Sub(c.backend.now()) > window {
		return current, nil
	}

	handle, err := c.issue(current.Subject, current.Email, current.Persistence)
	if err != nil {
		return nil, err
	}

	c.transition(handle, ChangeRefresh)
	return cloneHandle(handle), nil
}

// DeleteIdentity removes subject from the backend, signing the client out
// when it is the current identity
func (c *IdentityClient) DeleteIdentity(ctx context.Context, subject string) error {
	if err := c.backend.Delete(ctx, subject); err != nil {
		return err
	}

	if current := c.Current(); current != nil && current.Subject == subject {
		c.transition(nil, ChangeSignOut)
	}
	return nil
}
