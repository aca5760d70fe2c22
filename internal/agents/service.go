package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"voicedesk/internal/telephony"
	"voicedesk/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidSpec = errors.New("agents: name and voice are required")
	// ErrLocalWriteFailed means the remote assistant was created but the
	// local row was not. The remote side is compensated or queued for repair.
	ErrLocalWriteFailed = errors.New("agents: local write failed")
	ErrNoOrganization   = errors.New("agents: no organization")
)

// OrgDirectory lists the organizations a user belongs to.
type OrgDirectory interface {
	OrgIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Notifier receives user-visible outcome messages.
type Notifier interface {
	Success(ctx context.Context, audience, title, message string)
	Error(ctx context.Context, audience, title, message string)
}

type Options struct {
	Repo     Repository
	Provider telephony.Provider
	Orgs     OrgDirectory
	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Service keeps the local agent table and the remote assistants in step.
//
// Dual-write rules:
//   - Remote first; its id becomes the local primary key.
//   - A failed second write is compensated immediately, and queued as a
//     Repair when compensation fails too.
//   - Every failure reaches the caller.
type Service struct {
	repo     Repository
	provider telephony.Provider
	orgs     OrgDirectory
	notes    Notifier
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return &Service{
		repo:     o.Repo,
		provider: o.Provider,
		orgs:     o.Orgs,
		notes:    o.Notifier,
		log:      o.Logger,
		clock:    o.Clock,
	}
}

// CreateAgent creates the remote assistant, then the local row.
func (s *Service) CreateAgent(ctx context.Context, audience string, spec Spec, orgID string) (Agent, error) {
	spec = spec.normalized()
	if err := spec.validate(); err != nil {
		return Agent{}, err
	}
	if orgID == "" {
		return Agent{}, ErrNoOrganization
	}
	if spec.IdempotencyKey != "" {
		if prior, found, err := s.repo.FindByIdempotencyKey(ctx, orgID, spec.IdempotencyKey); err != nil {
			return Agent{}, err
		} else if found {
			return prior, nil
		}
	}

	remote, err := s.provider.CreateAssistant(ctx, telephony.AssistantSpec{
		Name:          spec.Name,
		Prompt:        spec.Prompt,
		FirstMessage:  spec.FirstMessage,
		VoiceID:       spec.VoiceID,
		VoiceProvider: spec.VoiceProvider,
		Model:         spec.Model,
	})
	if err != nil {
		s.logFor(ctx).ErrorContext(ctx, "remote assistant create failed", "org_id", orgID, "err", err)
		s.notifyError(ctx, audience, "Could not create agent", "The voice service rejected the request.")
		return Agent{}, fmt.Errorf("create assistant: %w", err)
	}
	if remote.ID == "" {
		s.notifyError(ctx, audience, "Could not create agent", "The voice service returned no id.")
		return Agent{}, telephony.ErrMissingID
	}

	a := Agent{
		ID:           remote.ID,
		OrgID:        orgID,
		Name:         spec.Name,
		VoiceID:      spec.VoiceID,
		Prompt:       spec.Prompt,
		FirstMessage: spec.FirstMessage,
		Status:       StatusActive,
		CreatedAt:    s.clock().UTC(),

		IdempotencyKey: spec.IdempotencyKey,
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		s.logFor(ctx).ErrorContext(ctx, "agent insert failed; compensating", "agent_id", a.ID, "org_id", orgID, "err", err)
		s.compensateRemote(ctx, a, err)
		// A concurrent retry with the same key won the insert.
		if errors.Is(err, ErrDuplicate) && spec.IdempotencyKey != "" {
			if prior, found, ferr := s.repo.FindByIdempotencyKey(ctx, orgID, spec.IdempotencyKey); ferr == nil && found {
				return prior, nil
			}
		}
		s.notifyError(ctx, audience, "Could not create agent", "Your agent was not saved. Please try again.")
		return Agent{}, fmt.Errorf("%w: %w", ErrLocalWriteFailed, err)
	}

	s.logFor(ctx).InfoContext(ctx, "agent created", "agent_id", a.ID, "org_id", orgID)
	s.notifySuccess(ctx, audience, "Agent created", a.Name)
	return a, nil
}

func (s *Service) compensateRemote(ctx context.Context, a Agent, cause error) {
	// Compensation must outlive a cancelled request.
	cctx := context.WithoutCancel(ctx)
	err := s.provider.DeleteAssistant(cctx, a.ID)
	if err == nil {
		return
	}
	s.logFor(ctx).ErrorContext(ctx, "compensating delete failed; queueing repair", "agent_id", a.ID, "err", err)
	s.enqueue(cctx, RepairDeleteRemote, a.ID, a.OrgID, errors.Join(cause, err))
}

// DeleteAgent removes an agent owned by orgID, remote side first.
func (s *Service) DeleteAgent(ctx context.Context, audience, orgID, id string) error {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.OrgID != orgID {
		return ErrNotFound
	}

	if err := s.provider.DeleteAssistant(ctx, id); err != nil {
		s.logFor(ctx).ErrorContext(ctx, "remote assistant delete failed", "agent_id", id, "err", err)
		s.notifyError(ctx, audience, "Could not delete agent", "The voice service is unavailable.")
		return fmt.Errorf("delete assistant: %w", err)
	}
	err = s.repo.Delete(ctx, orgID, id)
	if errors.Is(err, ErrNotFound) {
		// A concurrent delete removed the row first.
		err = nil
	}
	if err != nil {
		s.logFor(ctx).ErrorContext(ctx, "agent row delete failed; queueing repair", "agent_id", id, "err", err)
		s.enqueue(context.WithoutCancel(ctx), RepairDeleteLocal, id, orgID, err)
		s.notifyError(ctx, audience, "Agent partially deleted", "Cleanup will finish shortly.")
		return fmt.Errorf("%w: %w", ErrLocalWriteFailed, err)
	}

	s.logFor(ctx).InfoContext(ctx, "agent deleted", "agent_id", id, "org_id", orgID)
	s.notifySuccess(ctx, audience, "Agent deleted", a.Name)
	return nil
}

// ListAgents returns every agent in the user's organizations, newest first.
func (s *Service) ListAgents(ctx context.Context, userID string) ([]Agent, error) {
	ids, err := s.orgs.OrgIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	if len(ids) == 0 {
		return []Agent{}, nil
	}
	return s.repo.ListByOrgs(ctx, ids)
}

// GetAgent returns id if it belongs to one of orgIDs.
func (s *Service) GetAgent(ctx context.Context, orgIDs []string, id string) (Agent, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Agent{}, err
	}
	if !slices.Contains(orgIDs, a.OrgID) {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

// AgentForUser is GetAgent scoped to every organization of userID.
func (s *Service) AgentForUser(ctx context.Context, userID, id string) (Agent, error) {
	ids, err := s.orgs.OrgIDsForUser(ctx, userID)
	if err != nil {
		return Agent{}, fmt.Errorf("list organizations: %w", err)
	}
	return s.GetAgent(ctx, ids, id)
}

func (s *Service) enqueue(ctx context.Context, kind RepairKind, agentID, orgID string, cause error) {
	rep := Repair{
		ID:        uuid.NewString(),
		Kind:      kind,
		AgentID:   agentID,
		OrgID:     orgID,
		LastError: cause.Error(),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.EnqueueRepair(ctx, rep); err != nil {
		// Last line: the log is the only record of the orphan.
		s.logFor(ctx).ErrorContext(ctx, "repair enqueue failed", "kind", kind, "agent_id", agentID, "org_id", orgID, "err", err)
	}
}

func (s *Service) notifySuccess(ctx context.Context, audience, title, msg string) {
	if s.notes != nil && audience != "" {
		s.notes.Success(ctx, audience, title, msg)
	}
}

func (s *Service) notifyError(ctx context.Context, audience, title, msg string) {
	if s.notes != nil && audience != "" {
		s.notes.Error(ctx, audience, title, msg)
	}
}

// logFor returns the request-scoped logger so entries carry request_id,
// falling back to the service logger off the request path.
func (s *Service) logFor(ctx context.Context) *slog.Logger {
	if l := logger.From(ctx); l != slog.Default() {
		return l.With("component", "agents")
	}
	return s.log
}
