package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UsersCollection holds one profile document per identity subject
const UsersCollection = "users"

const (
	fieldID          = "id"
	fieldEmail       = "email"
	fieldDisplayName = "displayName"
	fieldRole        = "role"
	fieldIsActive    = "isActive"
	fieldCreatedAt   = "createdAt"
	fieldLastLoginAt = "lastLoginAt"
)

// UserProfile is the application level identity record
type UserProfile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        UserRole  `json:"role"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

// NewUserProfile builds the profile written at provisioning time
func NewUserProfile(id, email, displayName string, role UserRole, now time.Time) *UserProfile {
	return &UserProfile{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		IsActive:    true,
		CreatedAt:   now,
		LastLoginAt: now,
	}
}

// HasRole reports whether the profile holds a recognized role equal to role
func (p *UserProfile) HasRole(role UserRole) bool {
	if p == nil || !p.Role.IsValid() {
		return false
	}
	return p.Role == role
}

// Clone returns a copy safe to hand to callers
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Document encodes the profile for the document store
func (p *UserProfile) Document() Document {
	return Document{
		fieldID:          p.ID,
		fieldEmail:       p.Email,
		fieldDisplayName: p.DisplayName,
		fieldRole:        string(p.Role),
		fieldIsActive:    p.IsActive,
		fieldCreatedAt:   p.CreatedAt,
		fieldLastLoginAt: p.LastLoginAt,
	}
}

func (p UserProfile) String() string {
	return fmt.Sprintf("id=%s email=%s role=%s active=%t", p.ID, p.Email, p.Role, p.IsActive)
}

// ProfileFromDocument decodes a users document. The subject id always wins
// over a stored id. Documents without an email or a role are not profiles,
// which keeps a merge stub such as {lastLoginAt} from resolving.
func ProfileFromDocument(id string, doc Document) (*UserProfile, error) {
	if doc == nil {
		return nil, withMetadata(ErrProfileNotFound, map[string]any{"id": id})
	}

	email, _ := docString(doc, fieldEmail)
	role, _ := docString(doc, fieldRole)
	if strings.TrimSpace(email) == "" || strings.TrimSpace(role) == "" {
		return nil, withMetadata(ErrProfileNotFound, map[string]any{
			"id":     id,
			"reason": "incomplete profile document",
		})
	}

	displayName, _ := docString(doc, fieldDisplayName)

	return &UserProfile{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Role:        UserRole(role),
		IsActive:    docBool(doc, fieldIsActive),
		CreatedAt:   docTime(doc, fieldCreatedAt),
		LastLoginAt: docTime(doc, fieldLastLoginAt),
	}, nil
}

func docString(doc Document, key string) (string, bool) {
	v, ok := doc[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case UserRole:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}

// docBool fails closed: anything but a true boolean is false
func docBool(doc Document, key string) bool {
	switch b := doc[key].(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	default:
		return false
	}
}

func docTime(doc Document, key string) time.Time {
	switch t := doc[key].(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	case float64:
		return time.UnixMilli(int64(t))
	case int64:
		return time.UnixMilli(t)
	}
	return time.Time{}
}
