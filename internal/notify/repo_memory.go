package notify

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	pending map[string][]Notification
	Err     error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{pending: map[string][]Notification{}} }

func (r *MemoryRepo) Append(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	q := append(r.pending[n.Audience], n)
	if len(q) > maxPending {
		q = q[len(q)-maxPending:]
	}
	r.pending[n.Audience] = q
	return nil
}

func (r *MemoryRepo) Drain(ctx context.Context, audience string) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending[audience]
	delete(r.pending, audience)
	return out, nil
}

// Pending peeks without draining.
func (r *MemoryRepo) Pending(audience string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.pending[audience]))
	copy(out, r.pending[audience])
	return out
}
