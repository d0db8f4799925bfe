package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientSession is one browser: its identity client and the session
// manager bound to it
type ClientSession struct {
	ID       string
	Client   *IdentityClient
	Manager  *SessionManager
	lastSeen time.Time
}

// SessionRegistry owns the per browser session managers. Idle sessions are
// closed by Sweep.
type SessionRegistry struct {
	backend   *BunIdentityBackend
	store     DocumentStore
	idleTTL   time.Duration
	configure func(*SessionManager) *SessionManager
	metrics   MetricsRecorder
	now       func() time.Time
	logger    Logger
	provider  LoggerProvider

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*ClientSession
	closed   bool
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(backend *BunIdentityBackend, store DocumentStore) *SessionRegistry {
	provider, logger := ResolveLogger("auth.sessions", nil, nil)
	base, cancel := context.WithCancel(context.Background())
	return &SessionRegistry{
		backend:  backend,
		store:    store,
		idleTTL:  30 * time.Minute,
		metrics:  normalizeMetrics(nil),
		now:      time.Now,
		logger:   logger,
		provider: provider,
		base:     base,
		cancel:   cancel,
		sessions: make(map[string]*ClientSession),
	}
}

func (r *SessionRegistry) WithLogger(l Logger) *SessionRegistry {
	r.provider, r.logger = ResolveLogger("auth.sessions", r.provider, l)
	return r
}

// WithLoggerProvider also names the loggers of the session managers
func (r *SessionRegistry) WithLoggerProvider(provider LoggerProvider) *SessionRegistry {
	r.provider, r.logger = ResolveLogger("auth.sessions", provider, nil)
	return r
}

func (r *SessionRegistry) WithIdleTTL(ttl time.Duration) *SessionRegistry {
	if ttl > 0 {
		r.idleTTL = ttl
	}
	return r
}

func (r *SessionRegistry) WithMetrics(m MetricsRecorder) *SessionRegistry {
	r.metrics = normalizeMetrics(m)
	return r
}

func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

// WithManagerSetup is applied to every new SessionManager before it starts
func (r *SessionRegistry) WithManagerSetup(fn func(*SessionManager) *SessionManager) *SessionRegistry {
	r.configure = fn
	return r
}

// Get returns the session with id and marks it as used
func (r *SessionRegistry) Get(id string) (*ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.sessions[id]
	if ok {
		cs.lastSeen = r.now()
	}
	return cs, ok
}

// Open creates a session. A non empty token restores a previous sign in
// before the manager subscribes, so the first state it sees is the
// restored identity.
func (r *SessionRegistry) Open(ctx context.Context, token string) (*ClientSession, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	r.mu.Unlock()

	client := NewIdentityClient(r.backend)
	if token != "" {
		if _, err := client.Restore(ctx, token); err != nil {
			r.logger.Debug("could not restore identity from token", "code", TextCode(err))
		}
	}

	manager := NewSessionManager(client, r.store).
		WithLoggerProvider(r.provider).
		WithMetrics(r.metrics)
	if r.configure != nil {
		manager = r.configure(manager)
	}

	if err := manager.Start(r.base); err != nil {
		return nil, err
	}

	cs := &ClientSession{
		ID:       uuid.NewString(),
		Client:   client,
		Manager:  manager,
		lastSeen: r.now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		manager.Close()
		return nil, ErrSessionClosed
	}
	r.sessions[cs.ID] = cs
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	return cs, nil
}

// Remove closes and forgets the session with id
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	cs, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		cs.Manager.Close()
		r.metrics.SetActiveSessions(n)
	}
}

// Len returns the number of open sessions
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the idle TTL and returns how
// many were closed
func (r *SessionRegistry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*ClientSession
	for id, cs := range r.sessions {
		if cs.lastSeen.Before(cutoff) {
			idle = append(idle, cs)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, cs := range idle {
		cs.Manager.Close()
	}

	if len(idle) > 0 {
		r.logger.Debug("closed idle sessions", "count", len(idle))
		r.metrics.SetActiveSessions(n)
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done
func (r *SessionRegistry) Run(ctx context.Context) {
	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close tears down every session
func (r *SessionRegistry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*ClientSession)
	r.mu.Unlock()

	for _, cs := range sessions {
		cs.Manager.Close()
	}
	r.cancel()
	r.metrics.SetActiveSessions(0)
	return nil
}
