package orgs

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory membership repository for tests and local development.
// Rows are returned in insertion order.
type MemoryRepo struct {
	mu sync.Mutex

	Memberships []Membership

	// Err, when set, is returned by every query.
	Err error
	// Queries records each query for assertions.
	Queries []MembershipQuery
}

func NewMemoryRepo(rows ...Membership) *MemoryRepo {
	return &MemoryRepo{Memberships: rows}
}

func (r *MemoryRepo) ListMemberships(ctx context.Context, q MembershipQuery) ([]Membership, error) {
	if q.UserID == "" {
		return nil, ErrInvalidQuery
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries = append(r.Queries, q)
	if r.Err != nil {
		return nil, r.Err
	}

	out := make([]Membership, 0)
	for _, m := range r.Memberships {
		if m.UserID != q.UserID {
			continue
		}
		if q.DefaultOnly && !m.IsDefault {
			continue
		}
		out = append(out, m)
		if q.DefaultOnly {
			break
		}
	}
	return out, nil
}
