package routeguard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-router"
)

// State mirrors the guard states of the auth package without import cycles
type State int

const (
	StatePending State = iota
	StateUnauthenticated
	StateForbidden
	StateGranted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateForbidden:
		return "forbidden"
	case StateGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Verdict is the guard outcome for one request. Principal is stored in
// locals under ContextKey when access is granted.
type Verdict struct {
	State     State
	Redirect  string
	Principal any
}

// Evaluator decides a request
type Evaluator interface {
	Evaluate(ctx router.Context) (Verdict, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(ctx router.Context) (Verdict, error)

func (f EvaluatorFunc) Evaluate(ctx router.Context) (Verdict, error) {
	return f(ctx)
}

var ErrMissingEvaluator = errors.New("routeguard: evaluator is required")

type Config struct {
	// Filter skips the middleware when it returns true
	Filter func(router.Context) bool

	Evaluator Evaluator

	// ContextKey is the locals key for the granted principal
	ContextKey string

	// RejectedRouteKey is the cookie remembering the path that required a
	// sign in
	RejectedRouteKey string
	RejectedRouteTTL time.Duration
	CookieSecure     bool

	// PendingHandler renders the neutral placeholder while the session is
	// still loading. It must not redirect.
	PendingHandler router.HandlerFunc
	RetryAfter     time.Duration

	ErrorHandler router.ErrorHandler
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	ContextKey:       "session",
	RejectedRouteKey: "rejected_route",
	RejectedRouteTTL: 5 * time.Minute,
	RetryAfter:       time.Second,
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		panic(ErrMissingEvaluator)
	}

	cfg := config[0]
	if cfg.Evaluator == nil {
		panic(ErrMissingEvaluator)
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = ConfigDefault.ContextKey
	}
	if cfg.RejectedRouteKey == "" {
		cfg.RejectedRouteKey = ConfigDefault.RejectedRouteKey
	}
	if cfg.RejectedRouteTTL <= 0 {
		cfg.RejectedRouteTTL = ConfigDefault.RejectedRouteTTL
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = ConfigDefault.RetryAfter
	}
	if cfg.PendingHandler == nil {
		retry := strconv.Itoa(int(cfg.RetryAfter.Round(time.Second) / time.Second))
		if retry == "0" {
			retry = "1"
		}
		cfg.PendingHandler = func(ctx router.Context) error {
			ctx.SetHeader("Retry-After", retry)
			ctx.SetHeader("Cache-Control", "no-store")
			return ctx.Status(http.StatusServiceUnavailable).SendString("Loading...")
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(ctx router.Context, err error) error {
			return ctx.Status(http.StatusInternalServerError).SendString("Internal Server Error")
		}
	}
	return cfg
}

// New creates the route guard middleware
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			verdict, err := cfg.Evaluator.Evaluate(ctx)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			switch verdict.State {
			case StateGranted:
				ctx.Locals(cfg.ContextKey, verdict.Principal)
				return next(ctx)
			case StateUnauthenticated:
				ctx.Cookie(&router.Cookie{
					Name:     cfg.RejectedRouteKey,
					Value:    ctx.OriginalURL(),
					Path:     "/",
					Expires:  time.Now().Add(cfg.RejectedRouteTTL),
					HTTPOnly: true,
					Secure:   cfg.CookieSecure,
					SameSite: "Lax",
				})
				return ctx.Redirect(verdict.Redirect, redirectStatus(ctx))
			case StateForbidden:
				return ctx.Redirect(verdict.Redirect, redirectStatus(ctx))
			default:
				return cfg.PendingHandler(ctx)
			}
		}
	}
}

func redirectStatus(ctx router.Context) int {
	if ctx.Method() == http.MethodGet || ctx.Method() == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
