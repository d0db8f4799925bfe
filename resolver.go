package auth

import (
	"context"

	"github.com/goliatone/go-errors"
)

// ProfileResolver looks up the profile for an identity
type ProfileResolver struct {
	store DocumentStore
}

func NewProfileResolver(store DocumentStore) *ProfileResolver {
	return &ProfileResolver{store: store}
}

// Resolve returns the active profile of identity. A nil identity resolves
// to (nil, nil). On any error the profile is nil: absent and incomplete
// documents give ErrProfileNotFound, deactivated ones ErrProfileInactive.
func (r *ProfileResolver) Resolve(ctx context.Context, identity *IdentityHandle) (*UserProfile, error) {
	if identity == nil {
		return nil, nil
	}

	doc, err := r.store.GetDocument(ctx, UsersCollection, identity.Subject)
	if err != nil {
		if HasTextCode(err, TextCodeDocumentNotFound) {
			return nil, withMetadata(ErrProfileNotFound, map[string]any{"subject": identity.Subject})
		}
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to load user profile").
			WithMetadata(map[string]any{"subject": identity.Subject})
	}

	profile, err := ProfileFromDocument(identity.Subject, doc)
	if err != nil {
		return nil, err
	}

	if !profile.IsActive {
		return nil, withMetadata(ErrProfileInactive, map[string]any{"subject": identity.Subject})
	}

	return profile, nil
}
