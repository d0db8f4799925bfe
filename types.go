package auth

import (
	"context"
	"time"
)

// Logger is the logging contract used across the package
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LoggerProvider hands out named loggers
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetContextKey() string
	GetSessionCookie() string
	GetRejectedRouteKey() string
	GetLoginPath() string
	GetUnauthorizedPath() string
	GetHomePath() string
	GetCookieSecure() bool
}

// PersistenceMode controls how long an identity survives on the client
type PersistenceMode string

const (
	// PersistenceDurable survives client restarts
	PersistenceDurable PersistenceMode = "durable"
	// PersistenceSessionOnly is cleared when the client closes
	PersistenceSessionOnly PersistenceMode = "session-only"
)

// IsValid reports whether the mode is one we know how to apply
func (p PersistenceMode) IsValid() bool {
	switch p {
	case PersistenceDurable, PersistenceSessionOnly:
		return true
	default:
		return false
	}
}

// IdentityHandle is the raw identity issued by the identity provider.
// Subject is the stable id shared with the profile document.
type IdentityHandle struct {
	Subject     string
	Email       string
	Token       string
	Persistence PersistenceMode
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// ChangeReason describes what triggered an identity change
type ChangeReason string

const (
	ChangeInitial ChangeReason = "initial"
	ChangeSignIn  ChangeReason = "sign_in"
	ChangeSignOut ChangeReason = "sign_out"
	ChangeRestore ChangeReason = "restore"
	ChangeRefresh ChangeReason = "refresh"
	ChangeProfile ChangeReason = "profile"
)

// IdentityChange is delivered to OnIdentityChange subscribers.
// A nil Identity means signed out.
type IdentityChange struct {
	Identity *IdentityHandle
	Reason   ChangeReason
}

// IdentityProvider verifies credentials and notifies identity transitions.
// OnIdentityChange must deliver the current state to a new subscriber
// before any later transition.
type IdentityProvider interface {
	VerifyCredentials(ctx context.Context, email, password string) (*IdentityHandle, error)
	CreateIdentity(ctx context.Context, email, password string) (*IdentityHandle, error)
	SignOut(ctx context.Context) error
	SetPersistenceMode(mode PersistenceMode) error
	OnIdentityChange(fn func(IdentityChange)) (unsubscribe func())
}

// IdentityRemover deletes an identity, used for administrator removal and
// provisioning rollback
type IdentityRemover interface {
	DeleteIdentity(ctx context.Context, subject string) error
}

// Document is a schemaless record held by a DocumentStore
type Document = map[string]any

// SetOptions modifies SetDocument behavior
type SetOptions struct {
	Merge bool
}

// SetOption configures a SetDocument call
type SetOption func(*SetOptions)

// Merge makes SetDocument update only the given fields, creating the
// document when it does not exist
func Merge() SetOption {
	return func(o *SetOptions) {
		o.Merge = true
	}
}

func resolveSetOptions(opts []SetOption) SetOptions {
	out := SetOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// DocumentStore is the key-document database holding profiles.
// GetDocument returns ErrDocumentNotFound for absent documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (Document, error)
	SetDocument(ctx context.Context, collection, id string, data Document, opts ...SetOption) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// DocumentListener receives the new document state. exists is false after
// a delete.
type DocumentListener func(doc Document, exists bool)

// DocumentWatcher is implemented by stores that can push document changes
type DocumentWatcher interface {
	WatchDocument(collection, id string, fn DocumentListener) (unsubscribe func())
}

// DocumentLister is implemented by stores that can enumerate a collection
type DocumentLister interface {
	ListDocuments(ctx context.Context, collection string) (map[string]Document, error)
}
