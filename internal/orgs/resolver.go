package orgs

import (
	"context"
	"errors"
	"log/slog"

	"voicedesk/internal/rbac"
)

const (
	WarningNoMembership = "no organization membership"
	WarningDegraded     = "organization data unavailable; using a personal workspace"
)

// Resolution is the outcome of default-organization lookup.
// Organization is nil when the user has no membership at all.
type Resolution struct {
	Organization *Organization
	Warning      string
	Degraded     bool
}

// Resolver picks the organization a user works in by default.
type Resolver struct {
	repo Repository
	log  *slog.Logger
}

func NewResolver(repo Repository, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{repo: repo, log: log}
}

// ResolveDefault returns the membership flagged default, else any membership,
// else no organization with a warning. A recursive-policy failure yields a
// placeholder organization scoped to the user instead of an error.
func (r *Resolver) ResolveDefault(ctx context.Context, userID string) (Resolution, error) {
	if userID == "" {
		return Resolution{}, ErrInvalidQuery
	}

	rows, err := r.repo.ListMemberships(ctx, MembershipQuery{UserID: userID, DefaultOnly: true})
	if err != nil {
		return r.degradedOr(ctx, userID, err)
	}
	if len(rows) > 0 {
		org := rows[0].Organization()
		return Resolution{Organization: &org}, nil
	}

	rows, err = r.repo.ListMemberships(ctx, MembershipQuery{UserID: userID})
	if err != nil {
		return r.degradedOr(ctx, userID, err)
	}
	if len(rows) > 0 {
		org := rows[0].Organization()
		return Resolution{Organization: &org}, nil
	}

	r.log.WarnContext(ctx, "user has no organization membership", "user_id", userID)
	return Resolution{Warning: WarningNoMembership}, nil
}

// OrgIDsForUser lists every organization the user belongs to.
func (r *Resolver) OrgIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.repo.ListMemberships(ctx, MembershipQuery{UserID: userID})
	if err != nil {
		if errors.Is(err, ErrPolicyRecursion) {
			return []string{PlaceholderFor(userID).ID}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, m := range rows {
		if _, ok := seen[m.OrgID]; ok {
			continue
		}
		seen[m.OrgID] = struct{}{}
		out = append(out, m.OrgID)
	}
	return out, nil
}

func (r *Resolver) degradedOr(ctx context.Context, userID string, err error) (Resolution, error) {
	if !errors.Is(err, ErrPolicyRecursion) {
		return Resolution{}, err
	}
	r.log.WarnContext(ctx, "membership policy recursion; using placeholder organization", "user_id", userID, "err", err)
	org := PlaceholderFor(userID)
	return Resolution{Organization: &org, Warning: WarningDegraded, Degraded: true}, nil
}

// PlaceholderFor synthesizes the degraded-mode organization for a user.
// The caller owns it so agent management keeps working.
func PlaceholderFor(userID string) Organization {
	return Organization{
		ID:          "user-" + userID,
		Name:        "Personal workspace",
		IsDefault:   true,
		Role:        rbac.RoleOwner,
		Placeholder: true,
	}
}

// Lookup adapts ResolveDefault to the bearer-token middleware: it returns the
// default organization id and the caller's role in it.
func (r *Resolver) Lookup(ctx context.Context, userID string) (orgID, role string, err error) {
	res, err := r.ResolveDefault(ctx, userID)
	if err != nil || res.Organization == nil {
		return "", "", err
	}
	return res.Organization.ID, res.Organization.Role, nil
}
