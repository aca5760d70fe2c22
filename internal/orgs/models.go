package orgs

// Organization is a tenant grouping of users and agents.
// It is fetched, never mutated, by this service.
type Organization struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	IsDefault bool   `json:"is_default" db:"is_default"`

	// Role is the caller's role in this organization (org_members.role).
	Role string `json:"role,omitempty" db:"role"`

	// Placeholder marks a synthesized organization used while membership
	// rows cannot be read (degraded mode).
	Placeholder bool `json:"placeholder,omitempty"`
}

// Membership is one org_members row joined with the organization name.
type Membership struct {
	OrgID     string `db:"org_id"`
	UserID    string `db:"user_id"`
	IsDefault bool   `db:"is_default"`
	Role      string `db:"role"`
	OrgName   string `db:"name"`
}

func (m Membership) Organization() Organization {
	return Organization{ID: m.OrgID, Name: m.OrgName, IsDefault: m.IsDefault, Role: m.Role}
}

// MembershipQuery filters membership rows for a single user.
type MembershipQuery struct {
	UserID      string
	DefaultOnly bool
}
