package auth

// Session is a snapshot of the current user. Version grows with every
// published change.
type Session struct {
	Identity *IdentityHandle
	Profile  *UserProfile
	Loading  bool
	Version  uint64
}

// Authenticated reports a ready session with a resolved profile
func (s Session) Authenticated() bool {
	return !s.Loading && s.Profile != nil
}

// Role returns the profile role, or "" without a profile
func (s Session) Role() UserRole {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.Role
}

// Subject returns the identity subject, or ""
func (s Session) Subject() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Subject
}

// IsAdmin reports an authenticated admin
func (s Session) IsAdmin() bool {
	return s.Authenticated() && s.Profile.HasRole(RoleAdmin)
}

func (s Session) clone() Session {
	s.Identity = cloneHandle(s.Identity)
	s.Profile = s.Profile.Clone()
	return s
}
