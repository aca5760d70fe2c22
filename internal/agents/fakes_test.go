package agents

import (
	"context"
	"errors"
	"sync"

	"voicedesk/internal/calls"
	"voicedesk/internal/telephony"
)

var errRemoteDown = errors.New("remote down")

type fakeProvider struct {
	mu sync.Mutex

	nextID    string
	createErr error
	deleteErr error

	created []telephony.AssistantSpec
	deleted []string
}

func (f *fakeProvider) Name() string                          { return "fake" }
func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeProvider) ListCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	return nil, nil
}

func (f *fakeProvider) ListCallsByAgent(ctx context.Context, agentID string) ([]calls.Call, error) {
	return nil, nil
}

func (f *fakeProvider) CreateAssistant(ctx context.Context, spec telephony.AssistantSpec) (telephony.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return telephony.Assistant{}, f.createErr
	}
	f.created = append(f.created, spec)
	return telephony.Assistant{ID: f.nextID, Name: spec.Name}, nil
}

func (f *fakeProvider) DeleteAssistant(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeProvider) ListVoices(ctx context.Context) ([]telephony.Voice, error) { return nil, nil }

func (f *fakeProvider) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type note struct{ level, audience, title string }

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) Success(ctx context.Context, audience, title, message string) {
	f.add("success", audience, title)
}

func (f *fakeNotifier) Error(ctx context.Context, audience, title, message string) {
	f.add("error", audience, title)
}

func (f *fakeNotifier) add(level, audience, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{level, audience, title})
}

func (f *fakeNotifier) levels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notes))
	for i, n := range f.notes {
		out[i] = n.level
	}
	return out
}

type staticOrgs struct {
	ids []string
	err error
}

func (s staticOrgs) OrgIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.ids, s.err
}
