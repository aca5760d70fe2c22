package identity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfirmationRequired is returned by SignUp when the store created the
	// user but withholds a session until the email address is confirmed.
	ErrConfirmationRequired = errors.New("identity: email confirmation required")
	ErrNoSession            = errors.New("identity: no session")
	ErrInvalidCredentials   = errors.New("identity: email and password required")
)

// Event is an auth-state transition pushed to listeners.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// User is the identity store's view of the signed-in person.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is an authenticated identity plus its token state.
// Tokens never leave the backend in JSON.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`

	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// User derives the user view of a session.
func (s *Session) User() *User {
	if s == nil {
		return nil
	}
	return &User{ID: s.UserID, Email: s.Email, DisplayName: s.DisplayName}
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// AuthEvent is delivered to OnAuthStateChange listeners. Session is nil for SIGNED_OUT.
type AuthEvent struct {
	Event   Event
	Session *Session
}

// APIError is a non-2xx answer from the identity store.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity: %d: %s", e.Status, e.Message)
}

// Unauthorized reports whether the store rejected the credentials or token.
func (e *APIError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userPayload) displayName() string {
	for _, k := range []string{"display_name", "full_name", "name"} {
		if s, ok := u.UserMetadata[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// tokenResponse is the grant/sign-up answer. Sign-up pending confirmation
// returns the bare user object, which leaves AccessToken empty.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}
