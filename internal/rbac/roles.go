package rbac

// Organization member roles, as stored in org_members.role.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

func IsOwner(role string) bool { return role == RoleOwner }

// CanManageAgents reports whether role may create or delete agents.
func CanManageAgents(role string) bool { return role == RoleOwner || role == RoleAdmin }
