package agents

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"voicedesk/internal/telephony"
	"voicedesk/pkg/logger"
)

func newTestService(repo *MemoryRepo, p *fakeProvider, n *fakeNotifier, orgIDs ...string) *Service {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return NewService(Options{
		Repo:     repo,
		Provider: p,
		Orgs:     staticOrgs{ids: orgIDs},
		Notifier: n,
		Clock:    func() time.Time { return now },
	})
}

func TestCreateAgent_RemoteThenLocal(t *testing.T) {
	repo := NewMemoryRepo()
	p := &fakeProvider{nextID: "asst_1"}
	n := &fakeNotifier{}
	svc := newTestService(repo, p, n)

	a, err := svc.CreateAgent(context.Background(), "sid", Spec{Name: " Front desk ", VoiceID: "v1", Prompt: "Be kind"}, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID != "asst_1" || a.OrgID != "org-1" || a.Name != "Front desk" || a.Status != StatusActive {
		t.Fatalf("unexpected agent %+v", a)
	}
	if got, err := repo.Get(context.Background(), "asst_1"); err != nil || got.OrgID != "org-1" {
		t.Fatalf("expected local row, got %+v %v", got, err)
	}
	if len(p.created) != 1 || p.created[0].Prompt != "Be kind" {
		t.Fatalf("unexpected remote calls %+v", p.created)
	}
	if lv := n.levels(); len(lv) != 1 || lv[0] != "success" {
		t.Fatalf("expected success notification, got %v", lv)
	}
}

func TestCreateAgent_InvalidSpec(t *testing.T) {
	p := &fakeProvider{nextID: "asst_1"}
	svc := newTestService(NewMemoryRepo(), p, &fakeNotifier{})

	for _, spec := range []Spec{{VoiceID: "v"}, {Name: "x"}, {Name: "   ", VoiceID: "v"}} {
		if _, err := svc.CreateAgent(context.Background(), "sid", spec, "org-1"); !errors.Is(err, ErrInvalidSpec) {
			t.Fatalf("spec %+v: expected ErrInvalidSpec, got %v", spec, err)
		}
	}
	if len(p.created) != 0 {
		t.Fatalf("invalid specs must not reach the remote")
	}
}

func TestCreateAgent_RemoteFailureWritesNothing(t *testing.T) {
	repo := NewMemoryRepo()
	p := &fakeProvider{createErr: errRemoteDown}
	n := &fakeNotifier{}
	svc := newTestService(repo, p, n, "org-1")

	if _, err := svc.CreateAgent(context.Background(), "sid", Spec{Name: "A", VoiceID: "v"}, "org-1"); !errors.Is(err, errRemoteDown) {
		t.Fatalf("expected remote error, got %v", err)
	}
	list, _ := repo.ListByOrgs(context.Background(), []string{"org-1"})
	if len(list) != 0 {
		t.Fatalf("expected no local rows")
	}
	if lv := n.levels(); len(lv) != 1 || lv[0] != "error" {
		t.Fatalf("expected error notification, got %v", lv)
	}
}

func TestCreateAgent_MissingRemoteID(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newTestService(repo, &fakeProvider{}, &fakeNotifier{})

	if _, err := svc.CreateAgent(context.Background(), "sid", Spec{Name: "A", VoiceID: "v"}, "org-1"); !errors.Is(err, telephony.ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestCreateAgent_LocalFailureCompensatesAndReturnsError(t *testing.T) {
	repo := NewMemoryRepo()
	dbErr := errors.New("insert failed")
	repo.InsertErr = dbErr
	p := &fakeProvider{nextID: "asst_9"}
	svc := newTestService(repo, p, &fakeNotifier{})

	_, err := svc.CreateAgent(context.Background(), "sid", Spec{Name: "A", VoiceID: "v"}, "org-1")
	if !errors.Is(err, ErrLocalWriteFailed) || !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped local failure, got %v", err)
	}
	if d := p.deletedIDs(); len(d) != 1 || d[0] != "asst_9" {
		t.Fatalf("expected compensating delete, got %v", d)
	}
	if reps := repo.Repairs(); len(reps) != 0 {
		t.Fatalf("successful compensation needs no repair, got %+v", reps)
	}
}

func TestCreateAgent_FailedCompensationQueuesRepair(t *testing.T) {
	repo := NewMemoryRepo()
	repo.InsertErr = errors.New("insert failed")
	p := &fakeProvider{nextID: "asst_9", deleteErr: errRemoteDown}
	svc := newTestService(repo, p, &fakeNotifier{})

	if _, err := svc.CreateAgent(context.Background(), "sid", Spec{Name: "A", VoiceID: "v"}, "org-1"); !errors.Is(err, ErrLocalWriteFailed) {
		t.Fatalf("expected ErrLocalWriteFailed, got %v", err)
	}
	reps := repo.Repairs()
	if len(reps) != 1 || reps[0].Kind != RepairDeleteRemote || reps[0].AgentID != "asst_9" || reps[0].OrgID != "org-1" {
		t.Fatalf("expected delete_remote repair, got %+v", reps)
	}
}

func TestDeleteAgent_ChecksOwnership(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-2", Name: "Other"})
	p := &fakeProvider{}
	svc := newTestService(repo, p, &fakeNotifier{})

	if err := svc.DeleteAgent(context.Background(), "sid", "org-1", "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteAgent(context.Background(), "sid", "org-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(p.deletedIDs()) != 0 {
		t.Fatalf("foreign agents must not be deleted remotely")
	}
}

func TestDeleteAgent_RemoteThenLocal(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-1", Name: "Mine"})
	p := &fakeProvider{}
	svc := newTestService(repo, p, &fakeNotifier{})

	if err := svc.DeleteAgent(context.Background(), "sid", "org-1", "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(context.Background(), "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected row gone, got %v", err)
	}
	if d := p.deletedIDs(); len(d) != 1 || d[0] != "a1" {
		t.Fatalf("expected remote delete, got %v", d)
	}
}

func TestDeleteAgent_RemoteFailureKeepsRow(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-1"})
	svc := newTestService(repo, &fakeProvider{deleteErr: errRemoteDown}, &fakeNotifier{})

	if err := svc.DeleteAgent(context.Background(), "sid", "org-1", "a1"); !errors.Is(err, errRemoteDown) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if _, err := repo.Get(context.Background(), "a1"); err != nil {
		t.Fatalf("expected row kept, got %v", err)
	}
}

func TestDeleteAgent_LocalFailureQueuesRepair(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-1"})
	repo.DeleteErr = errors.New("db down")
	svc := newTestService(repo, &fakeProvider{}, &fakeNotifier{})

	if err := svc.DeleteAgent(context.Background(), "sid", "org-1", "a1"); !errors.Is(err, ErrLocalWriteFailed) {
		t.Fatalf("expected ErrLocalWriteFailed, got %v", err)
	}
	reps := repo.Repairs()
	if len(reps) != 1 || reps[0].Kind != RepairDeleteLocal {
		t.Fatalf("expected delete_local repair, got %+v", reps)
	}
}

func TestDeleteAgent_RowAlreadyGoneSucceeds(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-1", Name: "Mine"})
	// The row vanishes between the ownership check and the local delete.
	repo.DeleteErr = ErrNotFound
	n := &fakeNotifier{}
	svc := newTestService(repo, &fakeProvider{}, n)

	if err := svc.DeleteAgent(context.Background(), "sid", "org-1", "a1"); err != nil {
		t.Fatalf("expected success when a concurrent delete won, got %v", err)
	}
	if reps := repo.Repairs(); len(reps) != 0 {
		t.Fatalf("expected no repair, got %+v", reps)
	}
	if lv := n.levels(); len(lv) != 1 || lv[0] != "success" {
		t.Fatalf("expected success notification, got %v", lv)
	}
}

func TestCreateAgent_LogsWithRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	reqLog := slog.New(slog.NewJSONHandler(&buf, nil)).With("request_id", "req-42")
	ctx := logger.With(context.Background(), reqLog)
	svc := newTestService(NewMemoryRepo(), &fakeProvider{nextID: "asst_1"}, &fakeNotifier{})

	if _, err := svc.CreateAgent(ctx, "sid", Spec{Name: "Desk", VoiceID: "v1"}, "org-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) || !strings.Contains(out, `"msg":"agent created"`) {
		t.Fatalf("expected request-scoped log entry, got %q", out)
	}
}

func TestListAgents_ScopedToMemberships(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepo(
		Agent{ID: "old", OrgID: "org-1", CreatedAt: t0},
		Agent{ID: "new", OrgID: "org-2", CreatedAt: t0.Add(time.Hour)},
		Agent{ID: "foreign", OrgID: "org-3", CreatedAt: t0.Add(2 * time.Hour)},
	)
	svc := newTestService(repo, &fakeProvider{}, nil, "org-1", "org-2")

	got, err := svc.ListAgents(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Fatalf("expected [new old], got %+v", got)
	}
}

func TestListAgents_NoMemberships(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-1"})
	svc := newTestService(repo, &fakeProvider{}, nil)

	got, err := svc.ListAgents(context.Background(), "u1")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", got, err)
	}
}

func TestGetAgent_OutsideOrgsIsNotFound(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-1"})
	svc := newTestService(repo, &fakeProvider{}, nil)

	if _, err := svc.GetAgent(context.Background(), []string{"org-2"}, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if a, err := svc.GetAgent(context.Background(), []string{"org-1"}, "a1"); err != nil || a.ID != "a1" {
		t.Fatalf("expected agent, got %+v %v", a, err)
	}
}

func TestAgentForUser_UsesMemberships(t *testing.T) {
	repo := NewMemoryRepo(Agent{ID: "a1", OrgID: "org-2"})
	svc := newTestService(repo, &fakeProvider{}, nil, "org-1", "org-2")

	if a, err := svc.AgentForUser(context.Background(), "u1", "a1"); err != nil || a.OrgID != "org-2" {
		t.Fatalf("expected agent from second org, got %+v %v", a, err)
	}
}

func TestCreateAgent_IdempotencyKeyReplaysFirstResult(t *testing.T) {
	repo := NewMemoryRepo()
	p := &fakeProvider{nextID: "asst_1"}
	svc := newTestService(repo, p, &fakeNotifier{})
	spec := Spec{Name: "A", VoiceID: "v", IdempotencyKey: "k-1"}

	first, err := svc.CreateAgent(context.Background(), "sid", spec, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p.nextID = "asst_2"
	again, err := svc.CreateAgent(context.Background(), "sid", spec, "org-1")
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected replay of %s, got %+v %v", first.ID, again, err)
	}
	if len(p.created) != 1 {
		t.Fatalf("expected one remote create, got %d", len(p.created))
	}

	// Same key in another organization is independent.
	other, err := svc.CreateAgent(context.Background(), "sid", spec, "org-2")
	if err != nil || other.ID != "asst_2" {
		t.Fatalf("expected new agent for org-2, got %+v %v", other, err)
	}
}

// racingRepo misses the first idempotency lookup, as a retry does when it
// checks before the first request commits.
type racingRepo struct {
	*MemoryRepo
	missed bool
}

func (r *racingRepo) FindByIdempotencyKey(ctx context.Context, orgID, key string) (Agent, bool, error) {
	if !r.missed {
		r.missed = true
		return Agent{}, false, nil
	}
	return r.MemoryRepo.FindByIdempotencyKey(ctx, orgID, key)
}

func TestCreateAgent_LostIdempotencyRaceCompensates(t *testing.T) {
	repo := &racingRepo{MemoryRepo: NewMemoryRepo(Agent{ID: "asst_winner", OrgID: "org-1", IdempotencyKey: "k-1"})}
	p := &fakeProvider{nextID: "asst_loser"}
	svc := NewService(Options{Repo: repo, Provider: p, Orgs: staticOrgs{}})

	got, err := svc.CreateAgent(context.Background(), "sid", Spec{Name: "A", VoiceID: "v", IdempotencyKey: "k-1"}, "org-1")
	if err != nil || got.ID != "asst_winner" {
		t.Fatalf("expected winner returned, got %+v %v", got, err)
	}
	if d := p.deletedIDs(); len(d) != 1 || d[0] != "asst_loser" {
		t.Fatalf("expected losing assistant deleted, got %v", d)
	}
}
