package auth

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// RoleOption is a role as offered in role pickers
type RoleOption struct {
	Value UserRole `json:"value"`
	Label string   `json:"label"`
}

// ListRoles returns every assignable role with its label
func ListRoles() []RoleOption {
	roles := GetAllRoles()
	out := make([]RoleOption, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleOption{Value: r, Label: r.Description()})
	}
	return out
}

// UserAdmin performs administrator edits on user profiles. Every operation
// requires an actor session holding the admin role.
type UserAdmin struct {
	store    DocumentStore
	remover  IdentityRemover
	now      func() time.Time
	activity ActivitySink
	logger   Logger
	provider LoggerProvider
}

func NewUserAdmin(store DocumentStore) *UserAdmin {
	provider, logger := ResolveLogger("auth.admin", nil, nil)
	return &UserAdmin{
		store:    store,
		now:      time.Now,
		activity: normalizeActivitySink(nil),
		logger:   logger,
		provider: provider,
	}
}

func (a *UserAdmin) WithLogger(l Logger) *UserAdmin {
	a.provider, a.logger = ResolveLogger("auth.admin", a.provider, l)
	return a
}

func (a *UserAdmin) WithActivitySink(sink ActivitySink) *UserAdmin {
	a.activity = normalizeActivitySink(sink)
	return a
}

// WithIdentityRemover makes DeleteProfile also remove the identity
func (a *UserAdmin) WithIdentityRemover(r IdentityRemover) *UserAdmin {
	a.remover = r
	return a
}

func (a *UserAdmin) WithClock(now func() time.Time) *UserAdmin {
	if now != nil {
		a.now = now
	}
	return a
}

func (a *UserAdmin) authorize(actor Session) error {
	if !actor.IsAdmin() {
		return withMetadata(ErrForbidden, map[string]any{
			"actor": actor.Subject(),
			"role":  string(actor.Role()),
		})
	}
	return nil
}

// GetProfile returns the stored profile, active or not
func (a *UserAdmin) GetProfile(ctx context.Context, actor Session, subject string) (*UserProfile, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}
	return a.load(ctx, subject)
}

func (a *UserAdmin) load(ctx context.Context, subject string) (*UserProfile, error) {
	doc, err := a.store.GetDocument(ctx, UsersCollection, subject)
	if err != nil {
		if HasTextCode(err, TextCodeDocumentNotFound) {
			return nil, withMetadata(ErrProfileNotFound, map[string]any{"subject": subject})
		}
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to load user profile")
	}
	return ProfileFromDocument(subject, doc)
}

// ListUsers returns every profile ordered by email. The store must
// implement DocumentLister.
func (a *UserAdmin) ListUsers(ctx context.Context, actor Session) ([]*UserProfile, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}

	lister, ok := a.store.(DocumentLister)
	if !ok {
		return nil, errors.New("document store cannot list users", errors.CategoryOperation).
			WithCode(errors.CodeInternal)
	}

	docs, err := lister.ListDocuments(ctx, UsersCollection)
	if err != nil {
		return nil, err
	}

	out := make([]*UserProfile, 0, len(docs))
	for id, doc := range docs {
		profile, err := ProfileFromDocument(id, doc)
		if err != nil {
			a.logger.Debug("skipping incomplete profile document", "subject", id)
			continue
		}
		out = append(out, profile)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Email < out[j].Email
	})
	return out, nil
}

// UpdateRole changes the role of subject
func (a *UserAdmin) UpdateRole(ctx context.Context, actor Session, subject string, role UserRole) error {
	if err := validateRole(role); err != nil {
		return withMetadata(ErrInvalidRole, map[string]any{"role": string(role)})
	}
	return a.patch(ctx, actor, subject, Document{fieldRole: string(role)})
}

// UpdateDisplayName changes the display name of subject
func (a *UserAdmin) UpdateDisplayName(ctx context.Context, actor Session, subject, displayName string) error {
	if err := validateDisplayName(displayName); err != nil {
		return withMetadata(ErrInvalidDisplayName, map[string]any{"reason": err.Error()})
	}
	return a.patch(ctx, actor, subject, Document{fieldDisplayName: strings.TrimSpace(displayName)})
}

// SetActive activates or deactivates subject. Deactivated users resolve to
// no profile.
func (a *UserAdmin) SetActive(ctx context.Context, actor Session, subject string, active bool) error {
	return a.patch(ctx, actor, subject, Document{fieldIsActive: active})
}

func (a *UserAdmin) patch(ctx context.Context, actor Session, subject string, fields Document) error {
	if err := a.authorize(actor); err != nil {
		return err
	}

	if _, err := a.load(ctx, subject); err != nil {
		return err
	}

	if err := a.store.SetDocument(ctx, UsersCollection, subject, fields, Merge()); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to update user profile")
	}

	changed := make([]string, 0, len(fields))
	for k := range fields {
		changed = append(changed, k)
	}
	sort.Strings(changed)

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType:  ActivityEventUserProfileUpdated,
		ActorID:    actor.Subject(),
		UserID:     subject,
		Metadata:   map[string]any{"fields": changed},
		OccurredAt: a.now(),
	})
	a.logger.Info("user profile updated", "subject", subject, "fields", strings.Join(changed, ","))
	return nil
}

// DeleteProfile removes the profile of subject, and its identity when an
// IdentityRemover is configured
func (a *UserAdmin) DeleteProfile(ctx context.Context, actor Session, subject string) error {
	if err := a.authorize(actor); err != nil {
		return err
	}

	if err := a.store.DeleteDocument(ctx, UsersCollection, subject); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to delete user profile")
	}

	identityRemoved := false
	if a.remover != nil {
		if err := a.remover.DeleteIdentity(ctx, subject); err != nil {
			a.logger.Error("profile deleted but identity removal failed", "subject", subject, "error", err)
		} else {
			identityRemoved = true
		}
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType:  ActivityEventUserProfileDeleted,
		ActorID:    actor.Subject(),
		UserID:     subject,
		Metadata:   map[string]any{"identity_removed": identityRemoved},
		OccurredAt: a.now(),
	})
	return nil
}
