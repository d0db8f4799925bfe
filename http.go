package auth

import (
	"context"
	"net/http"
	"time"

		"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/dudleytown/crypt-auth/middleware/routeguard"
)

// HTTPSessions binds browsers to session managers through cookies and
// builds route guard middleware
type HTTPSessions struct {
	registry               *SessionRegistry
	cfg                    Config
	readyTimeout           time.Duration
	cookieDuration         time.Duration
	extendedCookieDuration time.Duration
	refreshWindow          time.Duration
	metrics                MetricsRecorder
	Logger                 Logger
}

func NewHTTPSessions(registry *SessionRegistry, cfg Config) *HTTPSessions {
	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	extendedCookieDuration := cookieDuration
	if cfg.GetExtendedTokenDuration() > 0 {
		extendedCookieDuration = time.Duration(cfg.GetExtendedTokenDuration()) * time.Hour
	}

	_, logger := ResolveLogger("auth.http", nil, nil)
	return &HTTPSessions{
		registry:               registry,
		cfg:                    cfg,
		readyTimeout:           2 * time.Second,
		cookieDuration:         cookieDuration,
		extendedCookieDuration: extendedCookieDuration,
		refreshWindow:          cookieDuration / 4,
		metrics:                normalizeMetrics(nil),
		Logger:                 logger,
	}
}

func (h *HTTPSessions) WithLogger(l Logger) *HTTPSessions {
	_, h.Logger = ResolveLogger("auth.http", nil, l)
	return h
}

// WithReadyTimeout bounds how long a request waits for a loading session
// before the guard answers with the placeholder
func (h *HTTPSessions) WithReadyTimeout(d time.Duration) *HTTPSessions {
	if d >= 0 {
		h.readyTimeout = d
	}
	return h
}

// WithRefreshWindow sets how close to expiry a token must be before a
// request reissues it. Zero disables refreshing.
func (h *HTTPSessions) WithRefreshWindow(d time.Duration) *HTTPSessions {
	if d >= 0 {
		h.refreshWindow = d
	}
	return h
}

func (h *HTTPSessions) WithMetrics(m MetricsRecorder) *HTTPSessions {
	h.metrics = normalizeMetrics(m)
	return h
}

func (h *HTTPSessions) GetCookieDuration() time.Duration {
	return h.cookieDuration
}

func (h *HTTPSessions) GetExtendedCookieDuration() time.Duration {
	return h.extendedCookieDuration
}

// Lookup returns the browser's registered session. A browser without one
// gets a session only when it carries an identity token that still
// restores. Anonymous requests return nil and are never registered.
func (h *HTTPSessions) Lookup(c router.Context) (*ClientSession, error) {
	if sid := c.Cookies(h.cfg.GetSessionCookie()); sid != "" {
		if cs, ok := h.registry.Get(sid); ok {
			h.refresh(c, cs)
			return cs, nil
		}
	}

	token := c.Cookies(h.cfg.GetContextKey())
	if token == "" {
		return nil, nil
	}

	cs, err := h.registry.Open(c.Context(), token)
	if err != nil {
		return nil, err
	}

	if cs.Client.Current() == nil {
		h.registry.Remove(cs.ID)
		h.cookieDel(c, h.cfg.GetContextKey())
		return nil, nil
	}

	h.setSessionCookie(c, cs)
	return cs, nil
}

// setSessionCookie is session only: the browser drops it on close
func (h *HTTPSessions) setSessionCookie(c router.Context, cs *ClientSession) {
	c.Cookie(&router.Cookie{
		Name:     h.cfg.GetSessionCookie(),
		Value:    cs.ID,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

// refresh reissues a token close to expiry and rewrites its cookie
func (h *HTTPSessions) refresh(c router.Context, cs *ClientSession) {
	if h.refreshWindow <= 0 {
		return
	}

	current := cs.Client.Current()
	if current == nil || time.Until(current.ExpiresAt) > h.refreshWindow {
		return
	}

	identity, err := cs.Client.Refresh(c.Context(), h.refreshWindow)
	if err != nil {
		h.Logger.Warn("token refresh failed", "subject", current.Subject, "code", TextCode(err))
		return
	}
	h.setTokenCookie(c, identity)
}

// Ready waits up to the ready timeout for the session to finish loading.
// A session still loading afterwards is returned as is.
func (h *HTTPSessions) Ready(c router.Context, cs *ClientSession) Session {
	if h.readyTimeout <= 0 {
		return cs.Manager.Current()
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.readyTimeout)
	defer cancel()

	s, _ := cs.Manager.WaitReady(ctx)
	return s
}

// Current returns the request session once ready. Anonymous requests get
// the signed out Session.
func (h *HTTPSessions) Current(c router.Context) (Session, error) {
	cs, err := h.Lookup(c)
	if err != nil {
		return Session{}, err
	}
	if cs == nil {
		return Session{}, nil
	}
	return h.Ready(c, cs), nil
}

// Evaluator returns the routeguard evaluator applying allow
func (h *HTTPSessions) Evaluator(allow *AllowList) routeguard.Evaluator {
	guard := RouteGuard{
		Allow:            allow,
		LoginPath:        h.cfg.GetLoginPath(),
		UnauthorizedPath: h.cfg.GetUnauthorizedPath(),
	}

	return routeguard.EvaluatorFunc(func(c router.Context) (routeguard.Verdict, error) {
		s, err := h.Current(c)
		if err != nil {
			return routeguard.Verdict{}, err
		}

		d := guard.Decide(s)
		h.metrics.RecordGuardDecision(d.State)

		if d.Granted() {
			c.SetContext(WithSession(c.Context(), s))
		}

		return routeguard.Verdict{
			State:     verdictState(d.State),
			Redirect:  d.Redirect,
			Principal: s,
		}, nil
	})
}

func verdictState(s GuardState) routeguard.State {
	switch s {
	case GuardDeniedUnauthenticated:
		return routeguard.StateUnauthenticated
	case GuardDeniedForbidden:
		return routeguard.StateForbidden
	case GuardGranted:
		return routeguard.StateGranted
	default:
		return routeguard.StatePending
	}
}

// Protect guards a route with allow. A nil allow admits every signed in
// user.
func (h *HTTPSessions) Protect(allow *AllowList) router.MiddlewareFunc {
	return routeguard.New(routeguard.Config{
		Evaluator:        h.Evaluator(allow),
		ContextKey:       SessionLocalsKey,
		RejectedRouteKey: h.cfg.GetRejectedRouteKey(),
		CookieSecure:     h.cfg.GetCookieSecure(),
		RetryAfter:       time.Second,
		ErrorHandler:     h.errorHandler,
	})
}

// SignIn signs the browser in on a fresh session and stores the identity
// token. The previous session id is dropped only once the sign in
// succeeds. Durable sign ins get a persistent cookie, session only ones a
// browser session cookie.
func (h *HTTPSessions) SignIn(c router.Context, email, password string, stayLoggedIn bool) error {
	cs, err := h.registry.Open(c.Context(), "")
	if err != nil {
		return err
	}

	mode := PersistenceSessionOnly
	if stayLoggedIn {
		mode = PersistenceDurable
	}

	if err := cs.Manager.SignIn(c.Context(), email, password, WithPersistence(mode)); err != nil {
		h.registry.Remove(cs.ID)
		return err
	}

	identity := cs.Client.Current()
	if identity == nil {
		h.registry.Remove(cs.ID)
		return ErrInvalidCredentials
	}

	if sid := c.Cookies(h.cfg.GetSessionCookie()); sid != "" {
		h.registry.Remove(sid)
	}

	h.setSessionCookie(c, cs)
	h.setTokenCookie(c, identity)
	return nil
}

// CreateUser provisions an account from the request. Browsers without a
// session use a transient one that is closed before returning.
func (h *HTTPSessions) CreateUser(c router.Context, email, password, displayName string, role UserRole) (*UserProfile, error) {
	cs, err := h.Lookup(c)
	if err != nil {
		return nil, err
	}

	if cs == nil {
		if cs, err = h.registry.Open(c.Context(), ""); err != nil {
			return nil, err
		}
		defer h.registry.Remove(cs.ID)
	}

	return cs.Manager.CreateUser(c.Context(), email, password, displayName, role)
}

func (h *HTTPSessions) setTokenCookie(c router.Context, identity *IdentityHandle) {
	cookie := &router.Cookie{
		Name:     h.cfg.GetContextKey(),
		Value:    identity.Token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.cfg.GetCookieSecure(),
		SameSite: "Lax",
	}
	if identity.Persistence == PersistenceDurable {
		cookie.Expires = identity.ExpiresAt
	}
	c.Cookie(cookie)
}

// SignOut signs the browser out, closes its session and drops both
// cookies
func (h *HTTPSessions) SignOut(c router.Context) error {
	if sid := c.Cookies(h.cfg.GetSessionCookie()); sid != "" {
		if cs, ok := h.registry.Get(sid); ok {
			if err := cs.Manager.SignOut(c.Context()); err != nil {
				h.Logger.Error("sign out failed", "error", err)
			}
		}
		h.registry.Remove(sid)
	}
	h.cookieDel(c, h.cfg.GetContextKey())
	h.cookieDel(c, h.cfg.GetSessionCookie())
	return nil
}

// GetRedirect returns and clears the remembered rejected route
func (h *HTTPSessions) GetRedirect(c router.Context, def string) string {
	key := h.cfg.GetRejectedRouteKey()
	r := c.Cookies(key)
	if r == "" || r[0] != '/' || (len(r) > 1 && r[1] == '/') {
		r = def
	}
	h.cookieDel(c, key)
	return r
}

func (h *HTTPSessions) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   h.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

func (h *HTTPSessions) errorHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	h.Logger.Error(
		"route guard error",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	code := richErr.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return c.Status(code).SendString(http.StatusText(code))
}
