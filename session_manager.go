package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

type eventKind int

const (
	eventIdentity eventKind = iota
	eventProfile
)

type sessionEvent struct {
	kind    eventKind
	change  IdentityChange
	subject string
	// applied is closed once the loop has published the loading state for
	// an identity change
	applied chan struct{}
}

func (ev sessionEvent) ack() {
	if ev.applied != nil {
		close(ev.applied)
	}
}

type resolution struct {
	gen     uint64
	subject string
	profile *UserProfile
	err     error
	took    time.Duration
}

// SessionManager maps the provider's identity to a profile and exposes the
// current Session. Identity changes are processed one at a time in arrival
// order; a newer change supersedes the resolution in flight.
type SessionManager struct {
	provider IdentityProvider
	store    DocumentStore
	resolver *ProfileResolver

	now            func() time.Time
	logger         Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
	metrics        MetricsRecorder
	rollback       bool
	liveRevocation bool

	events  chan sessionEvent
	stopped chan struct{}
	cancel  context.CancelFunc
	unsub   func()

	closeOnce sync.Once

	mu          sync.Mutex
	state       Session
	started     bool
	closed      bool
	watchers    map[int]chan Session
	nextWatcher int
}

var _ SessionSource = (*SessionManager)(nil)

// NewSessionManager creates a manager in the loading state. Call Start to
// subscribe to the provider and Close to tear it down.
func NewSessionManager(provider IdentityProvider, store DocumentStore) *SessionManager {
	loggerProvider, logger := ResolveLogger("auth.session_manager", nil, nil)
	return &SessionManager{
		provider:       provider,
		store:          store,
		resolver:       NewProfileResolver(store),
		now:            time.Now,
		logger:         logger,
		loggerProvider: loggerProvider,
		activity:       normalizeActivitySink(nil),
		metrics:        normalizeMetrics(nil),
		events:         make(chan sessionEvent),
		stopped:        make(chan struct{}),
		state:          Session{Loading: true},
		watchers:       make(map[int]chan Session),
	}
}

func (m *SessionManager) WithLogger(l Logger) *SessionManager {
	m.loggerProvider, m.logger = ResolveLogger("auth.session_manager", m.loggerProvider, l)
	return m
}

// WithLoggerProvider overrides the logger provider used by the manager.
func (m *SessionManager) WithLoggerProvider(provider LoggerProvider) *SessionManager {
	m.loggerProvider, m.logger = ResolveLogger("auth.session_manager", provider, nil)
	return m
}

func (m *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

func (m *SessionManager) WithMetrics(metrics MetricsRecorder) *SessionManager {
	m.metrics = normalizeMetrics(metrics)
	return m
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// WithProvisioningRollback deletes the new identity when CreateUser cannot
// store its profile. The provider must implement IdentityRemover.
func (m *SessionManager) WithProvisioningRollback(enabled bool) *SessionManager {
	m.rollback = enabled
	return m
}

// WithLiveProfileRevocation re-resolves the profile whenever the signed in
// user's document changes, so deactivation or deletion takes effect at once.
// The store must implement DocumentWatcher.
func (m *SessionManager) WithLiveProfileRevocation(enabled bool) *SessionManager {
	m.liveRevocation = enabled
	return m
}

// Start runs the event loop and subscribes to identity changes
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrSessionStarted
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(loopCtx)

	// the provider delivers the current state synchronously, the loop must
	// already be receiving. The callback returns only after the loop has
	// entered loading, so a caller that just signed in never observes the
	// previous identity as settled.
	unsub := m.provider.OnIdentityChange(func(change IdentityChange) {
		m.enqueueApplied(sessionEvent{kind: eventIdentity, change: change})
	})

	m.mu.Lock()
	m.unsub = unsub
	closed := m.closed
	m.mu.Unlock()

	if closed {
		unsub()
	}
	return nil
}

// Close unsubscribes from the provider and stops resolution. It is safe to
// call more than once.
func (m *SessionManager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		started := m.started
		unsub := m.unsub
		cancel := m.cancel
		m.mu.Unlock()

		if unsub != nil {
			unsub()
		}

		if started && cancel != nil {
			cancel()
			<-m.stopped
		} else {
			close(m.stopped)
		}

		m.mu.Lock()
		for id, ch := range m.watchers {
			close(ch)
			delete(m.watchers, id)
		}
		m.mu.Unlock()
	})
	return nil
}

// Done is closed once the manager has been torn down
func (m *SessionManager) Done() <-chan struct{} {
	return m.stopped
}

func (m *SessionManager) enqueue(ev sessionEvent) {
	select {
	case m.events <- ev:
	case <-m.stopped:
	}
}

// enqueueApplied hands ev to the loop and waits until it has been applied
func (m *SessionManager) enqueueApplied(ev sessionEvent) {
	ev.applied = make(chan struct{})
	select {
	case m.events <- ev:
	case <-m.stopped:
		return
	}
	select {
	case <-ev.applied:
	case <-m.stopped:
	}
}

func (m *SessionManager) run(ctx context.Context) {
	defer close(m.stopped)

	var gen uint64
	var watching string
	cancelResolve := context.CancelFunc(func() {})
	unwatch := func() {}
	results := make(chan resolution)

	defer func() {
		cancelResolve()
		unwatch()
	}()

	resolve := func(identity *IdentityHandle) {
		cancelResolve()
		gen++

		rctx, cancel := context.WithCancel(ctx)
		cancelResolve = cancel

		go func(gen uint64, identity *IdentityHandle) {
			start := m.now()
			profile, err := m.resolver.Resolve(rctx, identity)
			r := resolution{
				gen:     gen,
				subject: identity.Subject,
				profile: profile,
				err:     err,
				took:    m.now().Sub(start),
			}
			select {
			case results <- r:
			case <-ctx.Done():
			}
		}(gen, identity)
	}

	watch := func(subject string) {
		if !m.liveRevocation || subject == watching {
			return
		}
		unwatch()
		unwatch = func() {}
		watching = subject

		watcher, ok := m.store.(DocumentWatcher)
		if !ok || subject == "" {
			return
		}
		unwatch = watcher.WatchDocument(UsersCollection, subject, func(Document, bool) {
			m.enqueue(sessionEvent{kind: eventProfile, subject: subject})
		})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-m.events:
			switch ev.kind {
			case eventIdentity:
				identity := cloneHandle(ev.change.Identity)
				m.logger.Debug("identity change", "reason", string(ev.change.Reason), "signed_in", identity != nil)

				if identity == nil {
					cancelResolve()
					gen++
					watch("")
					m.update(func(s *Session) {
						s.Identity = nil
						s.Profile = nil
						s.Loading = true
					})
					m.update(func(s *Session) {
						s.Loading = false
					})
					ev.ack()
					continue
				}

				m.update(func(s *Session) {
					if s.Identity == nil || s.Identity.Subject != identity.Subject {
						s.Profile = nil
					}
					s.Identity = identity
					s.Loading = true
				})
				watch(identity.Subject)
				resolve(identity)
				ev.ack()

			case eventProfile:
				current := m.Current()
				if current.Identity == nil || current.Identity.Subject != ev.subject {
					continue
				}
				resolve(current.Identity)
			}

		case r := <-results:
			if r.gen != gen {
				continue
			}
			m.applyResolution(ctx, r)
		}
	}
}

func (m *SessionManager) applyResolution(ctx context.Context, r resolution) {
	outcome := "resolved"
	switch {
	case r.err == nil && r.profile == nil:
		outcome = "signed_out"
	case r.err == nil:
	case IsProfileMissing(r.err):
		outcome = strings.ToLower(TextCode(r.err))
		m.logger.Warn("identity has no usable profile, treating as signed out", "subject", r.subject, "code", TextCode(r.err))
	default:
		outcome = "error"
		var richErr *errors.Error
		if errors.As(r.err, &richErr) {
			m.logger.Error("profile resolution failed",
				"subject", r.subject,
				"error", richErr.Message,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		} else {
			m.logger.Error("profile resolution failed", "subject", r.subject, "error", r.err)
		}
	}

	if r.err != nil {
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType:  ActivityEventProfileResolveFailed,
			UserID:     r.subject,
			Metadata:   map[string]any{"code": TextCode(r.err)},
			OccurredAt: m.now(),
		})
	}

	m.metrics.RecordResolution(outcome, r.took)

	m.update(func(s *Session) {
		if s.Identity != nil && s.Identity.Subject == r.subject && r.err == nil {
			s.Profile = r.profile
		} else {
			s.Profile = nil
		}
		s.Loading = false
	})
}

// update mutates and publishes the state. Updates after Close are dropped.
func (m *SessionManager) update(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	fn(&m.state)
	m.state.Version++

	for _, ch := range m.watchers {
		offerLatest(ch, m.state.clone())
	}
}

// offerLatest replaces whatever value is buffered in ch. Callers hold the
// lock that guards every send to ch.
func offerLatest(ch chan Session, s Session) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}

// Current returns the latest session snapshot
func (m *SessionManager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Watch delivers the current session and then the latest session after
// every change. Slow readers only see the most recent value. The channel
// closes when ctx ends or the manager closes.
func (m *SessionManager) Watch(ctx context.Context) <-chan Session {
	ch := make(chan Session, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = ch
	ch <- m.state.clone()
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.stopped:
		}
		m.mu.Lock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(ch)
		}
		m.mu.Unlock()
	}()

	return ch
}

// WaitReady blocks until the session is no longer loading
func (m *SessionManager) WaitReady(ctx context.Context) (Session, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for s := range m.Watch(wctx) {
		if !s.Loading {
			return s, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return m.Current(), err
	}
	return m.Current(), ErrSessionClosed
}

func (m *SessionManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SignInOption configures SignIn
type SignInOption func(*signInOptions)

type signInOptions struct {
	persistence PersistenceMode
}

// WithPersistence selects how long the identity survives on the client
func WithPersistence(mode PersistenceMode) SignInOption {
	return func(o *signInOptions) {
		o.persistence = mode
	}
}

// SignIn verifies the credentials with the provider. The profile is not set
// here: it arrives through the identity change the provider emits.
func (m *SessionManager) SignIn(ctx context.Context, email, password string, opts ...SignInOption) error {
	if m.isClosed() {
		return ErrSessionClosed
	}

	options := signInOptions{persistence: PersistenceDurable}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if err := m.provider.SetPersistenceMode(options.persistence); err != nil {
		return err
	}

	identity, err := m.provider.VerifyCredentials(ctx, email, password)
	if err != nil {
		m.metrics.RecordSignIn(strings.ToLower(orDefault(TextCode(err), "error")))
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType:  ActivityEventLoginFailure,
			Metadata:   map[string]any{"email": email, "code": TextCode(err)},
			OccurredAt: m.now(),
		})
		m.logger.Info("sign in failed", "email", email, "code", TextCode(err))
		return err
	}

	m.metrics.RecordSignIn("success")
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		ActorID:    identity.Subject,
		UserID:     identity.Subject,
		Metadata:   map[string]any{"persistence": string(options.persistence)},
		OccurredAt: m.now(),
	})

	if err := m.store.SetDocument(ctx, UsersCollection, identity.Subject, Document{
		fieldLastLoginAt: m.now(),
	}, Merge()); err != nil {
		m.logger.Error("failed to record last login", "subject", identity.Subject, "error", err)
	}

	return nil
}

// SignOut signs out with the provider and clears the local session. It is
// idempotent and provider errors are only logged.
func (m *SessionManager) SignOut(ctx context.Context) error {
	subject := m.Current().Subject()

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Error("provider sign out failed", "error", err)
	}

	m.update(func(s *Session) {
		s.Identity = nil
		s.Profile = nil
	})

	if subject != "" {
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType:  ActivityEventLogout,
			ActorID:    subject,
			UserID:     subject,
			OccurredAt: m.now(),
		})
	}
	return nil
}

var displayNameRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 120),
}

func validateRole(role UserRole) error {
	return validation.Validate(string(role),
		validation.Required,
		validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if !UserRole(s).IsValid() {
				return errors.New("must be admin, sales or production", errors.CategoryValidation)
			}
			return nil
		}),
	)
}

func validateDisplayName(name string) error {
	return validation.Validate(strings.TrimSpace(name), displayNameRules...)
}

// CreateUser provisions an identity and its profile. The two writes are
// not atomic: when the profile write fails the error is
// ErrProvisioningPartialFailure carrying the orphaned subject. The current
// session is left untouched.
func (m *SessionManager) CreateUser(ctx context.Context, email, password, displayName string, role UserRole) (*UserProfile, error) {
	if err := validateRole(role); err != nil {
		return nil, withMetadata(ErrInvalidRole, map[string]any{"role": string(role), "reason": err.Error()})
	}

	if err := validateDisplayName(displayName); err != nil {
		return nil, withMetadata(ErrInvalidDisplayName, map[string]any{"reason": err.Error()})
	}

	identity, err := m.provider.CreateIdentity(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if identity.Email != "" {
		email = identity.Email
	}

	profile := NewUserProfile(identity.Subject, email, strings.TrimSpace(displayName), role, m.now())

	if err := m.store.SetDocument(ctx, UsersCollection, profile.ID, profile.Document()); err != nil {
		metadata := map[string]any{
			"subject": profile.ID,
			"email":   profile.Email,
			"cause":   err.Error(),
		}

		if m.rollback {
			metadata["rolled_back"] = m.rollbackIdentity(ctx, profile.ID)
		}

		m.logger.Error("identity created but profile write failed", "subject", profile.ID, "error", err)
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType:  ActivityEventProvisioningPartial,
			UserID:     profile.ID,
			Metadata:   metadata,
			OccurredAt: m.now(),
		})
		return nil, withMetadata(ErrProvisioningPartialFailure, metadata)
	}

	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType:  ActivityEventUserProvisioned,
		ActorID:    m.Current().Subject(),
		UserID:     profile.ID,
		Metadata:   map[string]any{"role": string(role)},
		OccurredAt: m.now(),
	})
	m.logger.Info("user provisioned", "subject", profile.ID, "role", string(role))

	return profile, nil
}

func (m *SessionManager) rollbackIdentity(ctx context.Context, subject string) bool {
	remover, ok := m.provider.(IdentityRemover)
	if !ok {
		m.logger.Warn("provider cannot remove identities, orphan left in place", "subject", subject)
		return false
	}
	if err := remover.DeleteIdentity(ctx, subject); err != nil {
		m.logger.Error("failed to roll back orphaned identity", "subject", subject, "error", err)
		return false
	}
	return true
}
