package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// IdentityClaims are the claims carried by identity tokens
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email       string          `json:"email"`
	Persistence PersistenceMode `json:"persistence"`
}

// TokenService issues and validates identity tokens
type TokenService interface {
	Issue(subject, email string, mode PersistenceMode) (string, time.Time, error)
	Validate(token string) (*IdentityClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey       []byte
	tokenExpiration  int
	extendedDuration int
	issuer           string
	audience         jwt.ClaimStrings
	now              func() time.Time
	logger           Logger
}

// NewTokenService creates a new TokenService instance from config.
// Session only tokens live GetTokenExpiration hours, durable tokens live
// GetExtendedTokenDuration hours.
func NewTokenService(cfg Config, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{name: "tokens"}
	}
	return &TokenServiceImpl{
		signingKey:       []byte(cfg.GetSigningKey()),
		tokenExpiration:  cfg.GetTokenExpiration(),
		extendedDuration: cfg.GetExtendedTokenDuration(),
		issuer:           cfg.GetIssuer(),
		audience:         cfg.GetAudience(),
		now:              time.Now,
		logger:           logger,
	}
}

// WithClock overrides the time source
func (ts *TokenServiceImpl) WithClock(now func() time.Time) *TokenServiceImpl {
	if now != nil {
		ts.now = now
	}
	return ts
}

func (ts *TokenServiceImpl) ttl(mode PersistenceMode) time.Duration {
	hours := ts.tokenExpiration
	if mode == PersistenceDurable && ts.extendedDuration > 0 {
		hours = ts.extendedDuration
	}
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Issue signs a token for subject
func (ts *TokenServiceImpl) Issue(subject, email string, mode PersistenceMode) (string, time.Time, error) {
	if !mode.IsValid() {
		return "", time.Time{}, ErrInvalidPersistenceMode
	}

	now := ts.now()
	exp := now.Add(ts.ttl(mode))

	claims := &IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subject,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:       email,
		Persistence: mode,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign identity token")
	}

	return signed, exp, nil
}

// Validate parses and validates a token string
func (ts *TokenServiceImpl) Validate(tokenString string) (*IdentityClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, withMetadata(ErrInvalidToken, map[string]any{"cause": err.Error()})
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	if !claims.Persistence.IsValid() {
		claims.Persistence = PersistenceSessionOnly
	}

	return claims, nil
}
