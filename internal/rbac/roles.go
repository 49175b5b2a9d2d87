package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSuperAdmin  = "super_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleOperator    = "operator"
	RoleViewer      = "viewer"
)

var roleRank = map[string]int{
	RoleViewer:      1,
	RoleOperator:    2,
	RoleTenantAdmin: 3,
	RoleSuperAdmin:  4,
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsKnownRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// AtLeast reports whether role grants everything min grants.
func AtLeast(role, min string) bool {
	r, ok := roleRank[role]
	if !ok {
		return false
	}
	return r >= roleRank[min]
}
