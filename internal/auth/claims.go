package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the access-token shape issued by the hosted identity store.
// Subject carries the user id; Role is the database role ("authenticated"),
// not the organization role, which comes from membership rows.
type Claims struct {
	jwt.RegisteredClaims

	Email        string         `json:"email"`
	Role         string         `json:"role"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// UserID is the authenticated user's id.
func (c Claims) UserID() string { return c.Subject }

// DisplayName reads the display name captured at sign-up, if any.
func (c Claims) DisplayName() string {
	if c.UserMetadata == nil {
		return ""
	}
	for _, k := range []string{"display_name", "full_name", "name"} {
		if s, ok := c.UserMetadata[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
