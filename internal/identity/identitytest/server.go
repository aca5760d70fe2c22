// Package identitytest runs an in-process identity store speaking the same
// REST dialect as the hosted one, for tests across packages.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/config"

	"github.com/google/uuid"
)

const AnonKey = "anon-test-key"

type user struct {
	ID          string
	Email       string
	Password    string
	DisplayName string
}

// Server is a fake identity store. Tokens it issues verify with Manager.
type Server struct {
	*httptest.Server
	Manager *auth.Manager

	mu                  sync.Mutex
	users               map[string]*user
	refresh             map[string]string
	ttl                 time.Duration
	requireConfirmation bool
	failures            map[string]int
	calls               map[string]int
}

// New starts a server signing tokens with secret. Callers Close it.
func New(secret string) *Server {
	m, err := auth.NewManager(config.IdentityConfig{JWTSecret: secret, JWTAudience: "authenticated"})
	if err != nil {
		panic(err)
	}
	s := &Server{
		Manager:  m,
		users:    map[string]*user{},
		refresh:  map[string]string{},
		ttl:      time.Hour,
		failures: map[string]int{},
		calls:    map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AddUser registers a confirmed user and returns its id.
func (s *Server) AddUser(email, password, displayName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{ID: uuid.NewString(), Email: email, Password: password, DisplayName: displayName}
	s.users[strings.ToLower(email)] = u
	return u.ID
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// RequireConfirmation makes sign-up return a bare user without a session.
func (s *Server) RequireConfirmation(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireConfirmation = on
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]string{}
}

// FailNext answers the next n requests to path with 503.
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// Calls counts requests received for path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	if n := s.failures[r.URL.Path]; n > 0 {
		s.failures[r.URL.Path] = n - 1
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "upstream unavailable"})
		return
	}
	s.mu.Unlock()

	if r.Header.Get("apikey") != AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/token":
		s.token(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/signup":
		s.signup(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/logout":
		s.logout(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/auth/v1/user":
		s.user(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
	}
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.URL.Query().Get("grant_type") {
	case "password":
		u, ok := s.users[strings.ToLower(body.Email)]
		if !ok || u.Password != body.Password {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		s.issueLocked(w, u)
	case "refresh_token":
		id, ok := s.refresh[body.RefreshToken]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
			return
		}
		delete(s.refresh, body.RefreshToken)
		for _, u := range s.users {
			if u.ID == id {
				s.issueLocked(w, u)
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "user_not_found", "msg": "User not found"})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "unsupported_grant_type", "msg": "unsupported grant type"})
	}
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(body.Email)
	if _, exists := s.users[key]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}
	u := &user{ID: uuid.NewString(), Email: body.Email, Password: body.Password, DisplayName: body.Data["display_name"]}
	s.users[key] = u
	if s.requireConfirmation {
		writeJSON(w, http.StatusOK, userBody(u))
		return
	}
	s.issueLocked(w, u)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.bearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}
	s.mu.Lock()
	for tok, id := range s.refresh {
		if id == claims.UserID() {
			delete(s.refresh, tok)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.bearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == claims.UserID() {
			writeJSON(w, http.StatusOK, userBody(u))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error_code": "user_not_found", "msg": "User not found"})
}

func (s *Server) bearer(r *http.Request) (auth.Claims, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tok == "" {
		return auth.Claims{}, false
	}
	claims, err := s.Manager.Verify(tok, time.Now())
	return claims, err == nil
}

func (s *Server) issueLocked(w http.ResponseWriter, u *user) {
	now := time.Now()
	claims := auth.NewClaims(u.ID, u.Email, uuid.NewString(), now, s.ttl)
	claims.UserMetadata = map[string]any{"display_name": u.DisplayName}
	access, err := s.Manager.Sign(claims)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = u.ID
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int(s.ttl.Seconds()),
		"expires_at":    now.Add(s.ttl).Unix(),
		"refresh_token": refresh,
		"user":          userBody(u),
	})
}

func userBody(u *user) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"user_metadata": map[string]any{"display_name": u.DisplayName},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
