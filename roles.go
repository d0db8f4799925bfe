package auth

// UserRole is the user's role. A user holds exactly one.
type UserRole string

const (
	// RoleAdmin has access to every module
	RoleAdmin UserRole = "admin"
	// RoleSales has access to the sales module
	RoleSales UserRole = "sales"
	// RoleProduction has access to production and inventory
	RoleProduction UserRole = "production"
)

// IsValid checks if the role is one of the predefined valid roles.
// Matching is case sensitive.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleAdmin, RoleSales, RoleProduction:
		return true
	default:
		return false
	}
}

func (r UserRole) String() string {
	return string(r)
}

// Description is the label shown when picking a role
func (r UserRole) Description() string {
	switch r {
	case RoleAdmin:
		return "Admin (Full Access)"
	case RoleSales:
		return "Sales (Sales Module Only)"
	case RoleProduction:
		return "Production (Production & Inventory)"
	default:
		return "Unknown"
	}
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleAdmin,
		RoleSales,
		RoleProduction,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
