package calls

import "time"

// Call is a single phone interaction owned by the remote call API.
// This service only reads calls; it never creates or mutates them.
type Call struct {
	ID          string `json:"id"`
	AssistantID string `json:"assistantId,omitempty"`
	Type        string `json:"type,omitempty"`

	Status      CallStatus `json:"status"`
	EndedReason string     `json:"endedReason,omitempty"`

	// Duration is in seconds. Zero when the API did not report it.
	Duration float64 `json:"duration,omitempty"`
	Cost     float64 `json:"cost,omitempty"`

	Customer Customer `json:"customer"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

type Customer struct {
	Number string `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusForwarding CallStatus = "forwarding"
	CallStatusEnded      CallStatus = "ended"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// IsCompleted reports whether the API marked the call completed. "ended"
// alone does not count, whatever the ended reason.
func (c Call) IsCompleted() bool { return c.Status == CallStatusCompleted }

// EffectiveDuration is the reported duration, else the span between start
// and end, else zero.
func (c Call) EffectiveDuration() float64 {
	if c.Duration > 0 {
		return c.Duration
	}
	if c.StartedAt != nil && c.EndedAt != nil && c.EndedAt.After(*c.StartedAt) {
		return c.EndedAt.Sub(*c.StartedAt).Seconds()
	}
	return 0
}
