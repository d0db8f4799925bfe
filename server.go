package auth

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

// Service wires the identity backend, the profile store, the session
// registry and the HTTP surface from Options
type Service struct {
	Options    Options
	DB         *bun.DB
	Identities *BunIdentityBackend
	Profiles   *BunDocumentStore
	Registry   *SessionRegistry
	Sessions   *HTTPSessions
	Admin      *UserAdmin
	Limiter    *LoginLimiter
	Metrics    *PrometheusMetrics
	Gatherer   prometheus.Gatherer
	Activity   ActivitySink

	logger   Logger
	provider LoggerProvider
}

// NewService builds every component. Nothing runs until Run.
func NewService(opts Options, db *bun.DB, provider LoggerProvider, activity ActivitySink) *Service {
	if provider == nil {
		provider = NewSlogLogger(nil)
	}
	_, logger := ResolveLogger("auth.service", provider, nil)

	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)

	tokens := NewTokenService(opts, provider.GetLogger("auth.tokens"))

	identities := NewBunIdentityBackend(db, tokens).
		WithLoggerProvider(provider).
		WithMaxLoginAttempts(opts.MaxLoginAttempts).
		WithCoolDownPeriod(opts.CoolDownPeriod).
		WithMinPasswordLength(opts.PasswordMinLength).
		WithHashCost(opts.PasswordHashCost).
		WithHashidSubjects(opts.HashidSubjects)

	profiles := NewBunDocumentStore(db).
		WithLogger(provider.GetLogger("auth.store"))

	registry := NewSessionRegistry(identities, profiles).
		WithLoggerProvider(provider).
		WithIdleTTL(opts.SessionIdleTTL).
		WithMetrics(metrics).
		WithManagerSetup(func(m *SessionManager) *SessionManager {
			return m.
				WithActivitySink(activity).
				WithLiveProfileRevocation(opts.LiveProfileRevocation).
				WithProvisioningRollback(opts.ProvisioningRollback)
		})

	sessions := NewHTTPSessions(registry, opts).
		WithLogger(provider.GetLogger("auth.http")).
		WithReadyTimeout(opts.ReadyTimeout).
		WithMetrics(metrics)

	admin := NewUserAdmin(profiles).
		WithLogger(provider.GetLogger("auth.admin")).
		WithActivitySink(activity).
		WithIdentityRemover(identities)

	return &Service{
		Options:    opts,
		DB:         db,
		Identities: identities,
		Profiles:   profiles,
		Registry:   registry,
		Sessions:   sessions,
		Admin:      admin,
		Limiter:    NewLoginLimiter(opts.LoginRatePerMinute),
		Metrics:    metrics,
		Gatherer:   reg,
		Activity:   normalizeActivitySink(activity),
		logger:     logger,
		provider:   provider,
	}
}

// Migrate creates the identity and document tables
func (s *Service) Migrate(ctx context.Context) error {
	if err := s.Identities.CreateSchema(ctx); err != nil {
		return err
	}
	return s.Profiles.CreateSchema(ctx)
}

// Controller returns the auth controller over the service components
func (s *Service) Controller() *AuthController {
	return NewAuthController(
		WithControllerLogger(s.provider.GetLogger("auth.controller")),
		WithSessions(s.Sessions),
		WithUserAdmin(s.Admin),
		WithAccountCounter(s.Identities),
		WithLoginLimiter(s.Limiter),
		WithSelfRegistration(s.Options.AllowSelfRegistration),
	)
}

// App builds the HTTP server: csrf protection for form posts and the
// metrics endpoint on the fiber app, then flash messages, the auth routes
// and the guarded brewery pages on the router
func (s *Service) App(views fiber.Views) router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			Views:             views,
			PassLocalsToViews: true,
		}))
	})

	app := srv.WrappedRouter()
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:" + CSRFFormField,
		CookieName:     "crypt_csrf",
		CookieSecure:   s.Options.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		ContextKey:     CSRFContextKey,
		Next: func(c *fiber.Ctx) bool {
			// JSON admin calls cannot be sent cross origin without a preflight
			return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEApplicationJSON)
		},
	}))
	app.Get("/metrics", adaptor.HTTPHandler(MetricsHandler(s.Gatherer)))

	r := srv.Router()
	r.Use(mflash.New(mflash.ConfigDefault))

	controller := s.Controller()
	RegisterAuthRoutes(r, controller)
	RegisterBreweryRoutes(r, controller, BreweryRoutes())

	return srv
}

// Run sweeps idle sessions and limiter entries until ctx is done
func (s *Service) Run(ctx context.Context) {
	go s.Registry.Run(ctx)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Limiter.Cleanup(); n > 0 {
				s.logger.Debug("login limiter cleanup", "removed", n)
			}
		}
	}
}

// Close tears down every session
func (s *Service) Close() error {
	return s.Registry.Close()
}
