package auth

// Role represents a user role.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleTreasurer Role = "treasurer"
	RoleAdmin     Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleTreasurer, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// Permission names one capability checked by the route policy.
type Permission string

const (
	PermManageCharges    Permission = "manage_charges"
	PermRegisterPayments Permission = "register_payments"
	PermManageClosings   Permission = "manage_closings"
	PermManageFunds      Permission = "manage_funds"
	PermViewFinances     Permission = "view_finances"
)

// Permissions is the fixed-shape capability set granted to a role.
type Permissions struct {
	ManageCharges    bool `json:"manage_charges"`
	RegisterPayments bool `json:"register_payments"`
	ManageClosings   bool `json:"manage_closings"`
	ManageFunds      bool `json:"manage_funds"`
	ViewFinances     bool `json:"view_finances"`
}

// PermissionsFor returns the capability set of role. Unknown roles get none.
func PermissionsFor(role Role) Permissions {
	switch role {
	case RoleAdmin:
		return Permissions{
			ManageCharges:    true,
			RegisterPayments: true,
			ManageClosings:   true,
			ManageFunds:      true,
			ViewFinances:     true,
		}
	case RoleTreasurer:
		return Permissions{
			RegisterPayments: true,
			ManageFunds:      true,
			ViewFinances:     true,
		}
	case RoleViewer:
		return Permissions{ViewFinances: true}
	default:
		return Permissions{}
	}
}

// Allows reports whether the set grants perm.
func (p Permissions) Allows(perm Permission) bool {
	switch perm {
	case PermManageCharges:
		return p.ManageCharges
	case PermRegisterPayments:
		return p.RegisterPayments
	case PermManageClosings:
		return p.ManageClosings
	case PermManageFunds:
		return p.ManageFunds
	case PermViewFinances:
		return p.ViewFinances
	default:
		return false
	}
}
