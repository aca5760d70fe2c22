package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicedesk/internal/calls"
)

var (
	// ErrMalformedResponse means the body did not have the expected shape,
	// e.g. an object where a list was required.
	ErrMalformedResponse = errors.New("telephony: malformed response")
	ErrMissingID         = errors.New("telephony: created resource has no id")
	ErrInvalidSpec       = errors.New("telephony: invalid assistant spec")
)

// Provider is the remote call API as used by business logic.
//
// Rules:
// - No HTTP or provider payloads outside telephony adapters.
// - Calls are read-only; assistants are created and deleted, never edited here.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	ListCalls(ctx context.Context, limit int) ([]calls.Call, error)
	ListCallsByAgent(ctx context.Context, agentID string) ([]calls.Call, error)

	CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error)
	// DeleteAssistant succeeds when the assistant is already gone.
	DeleteAssistant(ctx context.Context, id string) error

	ListVoices(ctx context.Context) ([]Voice, error)
}

// AssistantSpec describes a voice assistant to create.
type AssistantSpec struct {
	Name          string
	Prompt        string
	FirstMessage  string
	VoiceID       string
	VoiceProvider string
	Model         string
	ModelProvider string
}

// Assistant is the remote side of an agent.
type Assistant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Voice is a catalog entry usable as AssistantSpec.VoiceID.
type Voice struct {
	ID         string `json:"id"`
	VoiceID    string `json:"voiceId,omitempty"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Gender     string `json:"gender,omitempty"`
	Accent     string `json:"accent,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// APIError is a non-2xx answer from the remote call API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("telephony: remote returned %d: %s", e.Status, body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
