package agents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu sync.Mutex

	agents  map[string]Agent
	repairs []Repair
	done    map[string]bool

	// InsertErr and DeleteErr, when set, fail the matching write.
	InsertErr error
	DeleteErr error
}

func NewMemoryRepo(seed ...Agent) *MemoryRepo {
	r := &MemoryRepo{agents: map[string]Agent{}, done: map[string]bool{}}
	for _, a := range seed {
		r.agents[a.ID] = a
	}
	return r
}

func (r *MemoryRepo) Insert(ctx context.Context, a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return r.InsertErr
	}
	if _, ok := r.agents[a.ID]; ok {
		return ErrDuplicate
	}
	if a.IdempotencyKey != "" {
		if _, found := r.byKeyLocked(a.OrgID, a.IdempotencyKey); found {
			return ErrDuplicate
		}
	}
	r.agents[a.ID] = a
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, orgID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	a, ok := r.agents[id]
	if !ok || a.OrgID != orgID {
		return ErrNotFound
	}
	delete(r.agents, id)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) FindByIdempotencyKey(ctx context.Context, orgID, key string) (Agent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byKeyLocked(orgID, key)
	return a, ok, nil
}

func (r *MemoryRepo) byKeyLocked(orgID, key string) (Agent, bool) {
	for _, a := range r.agents {
		if a.OrgID == orgID && a.IdempotencyKey == key {
			return a, true
		}
	}
	return Agent{}, false
}

func (r *MemoryRepo) ListByOrgs(ctx context.Context, orgIDs []string) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(orgIDs))
	for _, id := range orgIDs {
		want[id] = true
	}
	out := make([]Agent, 0)
	for _, a := range r.agents {
		if want[a.OrgID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) EnqueueRepair(ctx context.Context, rep Repair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep.UpdatedAt = rep.CreatedAt
	r.repairs = append(r.repairs, rep)
	return nil
}

func (r *MemoryRepo) PendingRepairs(ctx context.Context, limit int) ([]Repair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Repair, 0)
	for _, rep := range r.repairs {
		if r.done[rep.ID] {
			continue
		}
		out = append(out, rep)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkRepaired(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[id] = true
	r.bump(id, "")
	return nil
}

func (r *MemoryRepo) MarkRepairFailed(ctx context.Context, id, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bump(id, lastErr)
	return nil
}

func (r *MemoryRepo) bump(id, lastErr string) {
	for i := range r.repairs {
		if r.repairs[i].ID == id {
			r.repairs[i].Attempts++
			r.repairs[i].LastError = lastErr
			r.repairs[i].UpdatedAt = time.Now()
		}
	}
}

// Repairs returns every outbox entry, done or not.
func (r *MemoryRepo) Repairs() []Repair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Repair, len(r.repairs))
	copy(out, r.repairs)
	return out
}
