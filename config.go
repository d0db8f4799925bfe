package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-errors"
)

// EnvPrefix prefixes every environment variable read by LoadOptions
const EnvPrefix = "CRYPT_"

// Options is the service configuration. It implements Config.
type Options struct {
	ListenAddr            string        `env:"LISTEN_ADDR"             envDefault:":8080"`
	DatabaseDSN           string        `env:"DATABASE_DSN"            envDefault:"file:crypt.db?cache=shared"`
	SigningKey            string        `env:"SIGNING_KEY"`
	Issuer                string        `env:"ISSUER"                  envDefault:"crypt"`
	Audience              []string      `env:"AUDIENCE"                envDefault:"crypt:web" envSeparator:","`
	TokenExpiration       int           `env:"TOKEN_EXPIRATION"        envDefault:"24"`
	ExtendedTokenDuration int           `env:"EXTENDED_TOKEN_DURATION" envDefault:"720"`
	ContextKey            string        `env:"CONTEXT_KEY"             envDefault:"crypt_identity"`
	SessionCookie         string        `env:"SESSION_COOKIE"          envDefault:"crypt_sid"`
	RejectedRouteKey      string        `env:"REJECTED_ROUTE_KEY"      envDefault:"crypt_rejected_route"`
	LoginPath             string        `env:"LOGIN_PATH"              envDefault:"/login"`
	UnauthorizedPath      string        `env:"UNAUTHORIZED_PATH"       envDefault:"/unauthorized"`
	HomePath              string        `env:"HOME_PATH"               envDefault:"/"`
	CookieSecure          bool          `env:"COOKIE_SECURE"           envDefault:"false"`
	MaxLoginAttempts      int           `env:"MAX_LOGIN_ATTEMPTS"      envDefault:"5"`
	CoolDownPeriod        time.Duration `env:"COOL_DOWN_PERIOD"        envDefault:"24h"`
	PasswordMinLength     int           `env:"PASSWORD_MIN_LENGTH"     envDefault:"6"`
	PasswordHashCost      int           `env:"PASSWORD_HASH_COST"      envDefault:"12"`
	HashidSubjects        bool          `env:"HASHID_SUBJECTS"         envDefault:"false"`
	SessionIdleTTL        time.Duration `env:"SESSION_IDLE_TTL"        envDefault:"30m"`
	ReadyTimeout          time.Duration `env:"READY_TIMEOUT"           envDefault:"2s"`
	LoginRatePerMinute    int           `env:"LOGIN_RATE_PER_MINUTE"   envDefault:"10"`
	AllowSelfRegistration bool          `env:"ALLOW_SELF_REGISTRATION" envDefault:"false"`
	LiveProfileRevocation bool          `env:"LIVE_PROFILE_REVOCATION" envDefault:"true"`
	ProvisioningRollback  bool          `env:"PROVISIONING_ROLLBACK"   envDefault:"false"`
	LogLevel              string        `env:"LOG_LEVEL"               envDefault:"info"`
}

var _ Config = Options{}

// LoadOptions reads Options from the process environment
func LoadOptions() (Options, error) {
	return LoadOptionsFrom(nil)
}

// LoadOptionsFrom reads Options from environ, or from the process
// environment when environ is nil
func LoadOptionsFrom(environ map[string]string) (Options, error) {
	var opts Options
	if err := env.ParseWithOptions(&opts, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return Options{}, errors.Wrap(err, errors.CategoryBadInput, "failed to parse environment")
	}

	if opts.SigningKey == "" {
		return Options{}, errors.New("signing key is required", errors.CategoryValidation).
			WithTextCode("SIGNING_KEY_REQUIRED").
			WithCode(errors.CodeBadRequest)
	}
	return opts, nil
}

func (o Options) GetSigningKey() string {
	return o.SigningKey
}

func (o Options) GetIssuer() string {
	return o.Issuer
}

func (o Options) GetAudience() []string {
	return o.Audience
}

// GetTokenExpiration is in hours
func (o Options) GetTokenExpiration() int {
	return o.TokenExpiration
}

// GetExtendedTokenDuration is in hours
func (o Options) GetExtendedTokenDuration() int {
	return o.ExtendedTokenDuration
}

func (o Options) GetContextKey() string {
	return o.ContextKey
}

func (o Options) GetSessionCookie() string {
	return o.SessionCookie
}

func (o Options) GetRejectedRouteKey() string {
	return o.RejectedRouteKey
}

func (o Options) GetLoginPath() string {
	return orDefault(o.LoginPath, DefaultLoginPath)
}

func (o Options) GetUnauthorizedPath() string {
	return orDefault(o.UnauthorizedPath, DefaultUnauthorizedPath)
}

func (o Options) GetHomePath() string {
	return orDefault(o.HomePath, DefaultHomePath)
}

func (o Options) GetCookieSecure() bool {
	return o.CookieSecure
}
