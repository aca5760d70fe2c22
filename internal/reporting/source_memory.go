package reporting

import (
	"context"
	"sync"

	"voicedesk/internal/calls"
)

// MemorySource is an in-memory CallSource for tests and local development.
// ListCalls honors the limit like the remote API does.
type MemorySource struct {
	mu sync.Mutex

	Calls []calls.Call
	// Err, when set, is returned by every list call.
	Err error
	// Limits records the limit of each ListCalls request.
	Limits []int
}

func NewMemorySource(cs ...calls.Call) *MemorySource { return &MemorySource{Calls: cs} }

func (m *MemorySource) ListCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Limits = append(m.Limits, limit)
	if m.Err != nil {
		return nil, m.Err
	}
	n := len(m.Calls)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]calls.Call, n)
	copy(out, m.Calls[:n])
	return out, nil
}

func (m *MemorySource) ListCallsByAgent(ctx context.Context, agentID string) ([]calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]calls.Call, 0)
	for _, c := range m.Calls {
		if c.AssistantID == agentID {
			out = append(out, c)
		}
	}
	return out, nil
}
