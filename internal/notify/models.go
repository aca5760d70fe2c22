package notify

import "time"

// Notification is a transient, user-visible message ("toast").
//
// Invariants:
// - Audience is required; it is the browser session id or "user:<id>" for token callers.
// - Notifications are drained once; they are never edited.
type Notification struct {
	ID       string `json:"id"`
	Audience string `json:"-"`

	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// UserAudience addresses notifications to a user rather than a browser session.
func UserAudience(userID string) string { return "user:" + userID }
