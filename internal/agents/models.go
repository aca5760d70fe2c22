package agents

import (
	"strings"
	"time"
)

// Agent is a voice assistant scoped to an organization.
//
// Invariant: ID is assigned by the remote call API and reused as the local
// primary key. A local row without a remote assistant (or the reverse) is a
// repair candidate, see Repair.
type Agent struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	Name         string    `json:"name" db:"name"`
	VoiceID      string    `json:"voice_id" db:"voice_id"`
	Prompt       string    `json:"prompt" db:"prompt"`
	FirstMessage string    `json:"first_message" db:"first_message"`
	Status       Status    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`

	// IdempotencyKey is unique per organization when set.
	IdempotencyKey string `json:"-" db:"idempotency_key"`
}

type Status string

// StatusActive is the only status this service writes; the column leaves
// room for statuses set by other writers.
const StatusActive Status = "active"

// Spec is what a user submits to create an agent.
type Spec struct {
	Name          string `json:"name"`
	Prompt        string `json:"prompt"`
	VoiceID       string `json:"voice_id"`
	VoiceProvider string `json:"voice_provider,omitempty"`
	Model         string `json:"model,omitempty"`
	FirstMessage  string `json:"first_message"`

	// IdempotencyKey makes a retried create return the first result.
	IdempotencyKey string `json:"-"`
}

func (s Spec) normalized() Spec {
	s.Name = strings.TrimSpace(s.Name)
	s.Prompt = strings.TrimSpace(s.Prompt)
	s.VoiceID = strings.TrimSpace(s.VoiceID)
	s.FirstMessage = strings.TrimSpace(s.FirstMessage)
	s.IdempotencyKey = strings.TrimSpace(s.IdempotencyKey)
	return s
}

func (s Spec) validate() error {
	if s.Name == "" || s.VoiceID == "" {
		return ErrInvalidSpec
	}
	if len(s.Name) > 120 || len(s.IdempotencyKey) > 200 {
		return ErrInvalidSpec
	}
	return nil
}

// RepairKind names the compensating action still owed for a dual write.
type RepairKind string

const (
	// RepairDeleteRemote: the remote assistant exists without a local row.
	RepairDeleteRemote RepairKind = "delete_remote"
	// RepairDeleteLocal: the local row points at a deleted remote assistant.
	RepairDeleteLocal RepairKind = "delete_local"
)

// Repair is an outbox entry processed by the Reconciler.
type Repair struct {
	ID        string     `db:"id"`
	Kind      RepairKind `db:"kind"`
	AgentID   string     `db:"agent_id"`
	OrgID     string     `db:"org_id"`
	Attempts  int        `db:"attempts"`
	LastError string     `db:"last_error"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}
