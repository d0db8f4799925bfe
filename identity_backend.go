package auth

import (
	"context"
	"database/sql"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximun number of failed attempts an identity gets
// in a cool down period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = 24 * time.Hour

// MinPasswordLength is the shortest password accepted at provisioning
var MinPasswordLength = 6

// IdentityRecord is the bun model for stored credentials
type IdentityRecord struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`

	ID             string     `bun:"id,pk"`
	Email          string     `bun:"email,notnull,unique"`
	PasswordHash   string     `bun:"password_hash,notnull"`
	LoginAttempts  int        `bun:"login_attempts,notnull,default:0"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

var _ IdentityRemover = (*BunIdentityBackend)(nil)

// BunIdentityBackend stores identities in a SQL database and issues tokens.
// It is shared by every IdentityClient in the process.
type BunIdentityBackend struct {
	db             *bun.DB
	tokens         TokenService
	maxAttempts    int
	coolDown       time.Duration
	minPassword    int
	hashCost       int
	hashidSubjects bool
	now            func() time.Time
	logger         Logger
	provider       LoggerProvider
}

// NewBunIdentityBackend creates a backend using db for storage and tokens to
// sign identity tokens
func NewBunIdentityBackend(db *bun.DB, tokens TokenService) *BunIdentityBackend {
	provider, logger := ResolveLogger("auth.identity", nil, nil)
	return &BunIdentityBackend{
		db:          db,
		tokens:      tokens,
		maxAttempts: MaxLoginAttempts,
		coolDown:    CoolDownPeriod,
		minPassword: MinPasswordLength,
		hashCost:    passwordHashCost(),
		now:         time.Now,
		logger:      logger,
		provider:    provider,
	}
}

func (b *BunIdentityBackend) WithLogger(l Logger) *BunIdentityBackend {
	b.provider, b.logger = ResolveLogger("auth.identity", b.provider, l)
	return b
}

// WithLoggerProvider overrides the logger provider used by the backend.
func (b *BunIdentityBackend) WithLoggerProvider(provider LoggerProvider) *BunIdentityBackend {
	b.provider, b.logger = ResolveLogger("auth.identity", provider, nil)
	return b
}

func (b *BunIdentityBackend) WithMaxLoginAttempts(n int) *BunIdentityBackend {
	if n > 0 {
		b.maxAttempts = n
	}
	return b
}

func (b *BunIdentityBackend) WithCoolDownPeriod(d time.Duration) *BunIdentityBackend {
	if d > 0 {
		b.coolDown = d
	}
	return b
}

func (b *BunIdentityBackend) WithMinPasswordLength(n int) *BunIdentityBackend {
	if n > 0 {
		b.minPassword = n
	}
	return b
}

// WithHashCost sets the bcrypt cost used for new identities
func (b *BunIdentityBackend) WithHashCost(cost int) *BunIdentityBackend {
	b.hashCost = cost
	return b
}

// WithHashidSubjects derives subjects from the email instead of random uuids
func (b *BunIdentityBackend) WithHashidSubjects(enabled bool) *BunIdentityBackend {
	b.hashidSubjects = enabled
	return b
}

func (b *BunIdentityBackend) WithClock(now func() time.Time) *BunIdentityBackend {
	if now != nil {
		b.now = now
	}
	return b
}

// Tokens returns the token service used to sign identity tokens
func (b *BunIdentityBackend) Tokens() TokenService {
	return b.tokens
}

// CreateSchema creates the identities table if needed
func (b *BunIdentityBackend) CreateSchema(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*IdentityRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create identities table")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (b *BunIdentityBackend) findByEmail(ctx context.Context, email string) (*IdentityRecord, error) {
	record := &IdentityRecord{}
	err := b.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withMetadata(ErrUnknownAccount, map[string]any{"email": email})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve identity")
	}
	return record, nil
}

// Count returns the number of stored identities
func (b *BunIdentityBackend) Count(ctx context.Context) (int, error) {
	n, err := b.db.NewSelect().Model((*IdentityRecord)(nil)).Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to count identities")
	}
	return n, nil
}

// Authenticate checks the credentials and returns the stored record
func (b *BunIdentityBackend) Authenticate(ctx context.Context, email, password string) (*IdentityRecord, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	record, err := b.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	now := b.now()
	if record.LoginAttemptAt != nil && now.Sub(*record.LoginAttemptAt) > b.coolDown {
		record.LoginAttempts = 0
	}

	if record.LoginAttempts >= b.maxAttempts {
		return nil, withMetadata(ErrTooManyAttempts, map[string]any{"subject": record.ID})
	}

	if err := ComparePasswordAndHash(password, record.PasswordHash); err != nil {
		if !HasTextCode(err, TextCodeInvalidCredentials) {
			return nil, err
		}

		record.LoginAttempts++
		record.LoginAttemptAt = &now
		record.UpdatedAt = now
		if _, err2 := b.db.NewUpdate().
			Model(record).
			Column("login_attempts", "login_attempt_at", "updated_at").
			WherePK().
			Exec(ctx); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}
		return nil, ErrInvalidCredentials
	}

	record.LoginAttempts = 0
	record.LoginAttemptAt = nil
	record.LoggedInAt = &now
	record.UpdatedAt = now
	if _, err := b.db.NewUpdate().
		Model(record).
		Column("login_attempts", "login_attempt_at", "loggedin_at", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		b.logger.Error("failed to track successful login", "error", err)
	}

	return record, nil
}

// Register stores a new identity
func (b *BunIdentityBackend) Register(ctx context.Context, email, password string) (*IdentityRecord, error) {
	email = normalizeEmail(email)
	if !isEmail(email) {
		return nil, withMetadata(ErrInvalidEmail, map[string]any{"email": email})
	}

	if len(password) < b.minPassword {
		return nil, withMetadata(ErrWeakPassword, map[string]any{"min_length": b.minPassword})
	}

	hash, err := HashPasswordWithCost(password, b.hashCost)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if b.hashidSubjects {
		if hid, err := hashid.NewUUID(email); err == nil {
			id = hid.String()
		}
	}

	now := b.now()
	record := &IdentityRecord{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*IdentityRecord)(nil)).
			Where("email = ?", email).
			Exists(ctx)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to check identity")
		}

		if exists {
			return withMetadata(ErrAccountAlreadyExists, map[string]any{"email": email})
		}

		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryConflict, "could not create identity")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("identity registered", "subject", record.ID)
	return record, nil
}

// Delete removes the identity with the given subject
func (b *BunIdentityBackend) Delete(ctx context.Context, subject string) error {
	_, err := b.db.NewDelete().
		Model((*IdentityRecord)(nil)).
		Where("id = ?", subject).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete identity")
	}
	return nil
}

// Exists reports whether subject is still a stored identity
func (b *BunIdentityBackend) Exists(ctx context.Context, subject string) (bool, error) {
	ok, err := b.db.NewSelect().
		Model((*IdentityRecord)(nil)).
		Where("id = ?", subject).
		Exists(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to check identity")
	}
	return ok, nil
}

// DeleteIdentity implements IdentityRemover
func (b *BunIdentityBackend) DeleteIdentity(ctx context.Context, subject string) error {
	return b.Delete(ctx, subject)
}
