package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/pkg/utils"
)

// Verifier checks access tokens issued by the store before they are trusted.
type Verifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

type Options struct {
	BaseURL    string
	AnonKey    string
	HTTPClient *http.Client
	Retry      utils.RetryPolicy
	Verifier   Verifier
	Store      TokenStore
	Logger     *slog.Logger
	Now        func() time.Time

	// RefreshMargin is how close to expiry a session is refreshed proactively.
	RefreshMargin time.Duration
}

// Service holds the transport shared by every browser session.
type Service struct {
	baseURL string
	anonKey string
	http    *http.Client
	retry   utils.RetryPolicy
	verify  Verifier
	store   TokenStore
	log     *slog.Logger
	now     func() time.Time
	margin  time.Duration
}

func NewService(o Options) (*Service, error) {
	if o.BaseURL == "" || o.AnonKey == "" {
		return nil, errors.New("identity: base url and anon key are required")
	}
	if o.Verifier == nil {
		return nil, errors.New("identity: verifier is required")
	}
	if o.Store == nil {
		return nil, errors.New("identity: token store is required")
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.RefreshMargin <= 0 {
		o.RefreshMargin = time.Minute
	}
	return &Service{
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		anonKey: o.AnonKey,
		http:    o.HTTPClient,
		retry:   o.Retry,
		verify:  o.Verifier,
		store:   o.Store,
		log:     o.Logger,
		now:     o.Now,
		margin:  o.RefreshMargin,
	}, nil
}

// Client returns a client bound to one browser session id.
func (s *Service) Client(sid string) *Client {
	return &Client{svc: s, sid: sid}
}

type listener struct {
	id int
	fn func(context.Context, AuthEvent)
}

// Client is the identity store as seen by one browser session.
type Client struct {
	svc *Service
	sid string

	mu        sync.Mutex
	listeners []listener
	nextID    int
}

// SessionID is the browser session id the client is bound to.
func (c *Client) SessionID() string { return c.sid }

// OnAuthStateChange registers fn for auth events. Listeners run synchronously
// in registration order on the goroutine that caused the transition.
func (c *Client) OnAuthStateChange(fn func(context.Context, AuthEvent)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event, s *Session) {
	c.mu.Lock()
	ls := make([]listener, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()

	for _, l := range ls {
		l.fn(ctx, AuthEvent{Event: ev, Session: s.clone()})
	}
}

// GetSession returns the stored session after validating it with the store.
// A session close to expiry is refreshed. nil means signed out.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	s, found, err := c.svc.store.Load(ctx, c.sid)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	if s.ExpiresAt.Sub(c.svc.now()) < c.svc.margin {
		s, err = c.Refresh(ctx)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, nil
		}
		return s, err
	}

	var u userPayload
	if err := c.svc.do(ctx, http.MethodGet, "/auth/v1/user", s.AccessToken, nil, &u); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			if derr := c.svc.store.Delete(ctx, c.sid); derr != nil {
				c.svc.log.WarnContext(ctx, "drop rejected session failed", "err", derr)
			}
			return nil, nil
		}
		return nil, err
	}
	if name := u.displayName(); name != "" {
		s.DisplayName = name
	}
	if u.Email != "" {
		s.Email = u.Email
	}
	return s, nil
}

// SignInWithPassword exchanges credentials for a session and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	var tr tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.svc.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &tr); err != nil {
		return nil, err
	}
	return c.establish(ctx, tr, EventSignedIn)
}

// SignUp registers a user. When the store returns no session the caller gets
// ErrConfirmationRequired and nothing is stored.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"display_name": displayName},
	}
	var raw json.RawMessage
	if err := c.svc.do(ctx, http.MethodPost, "/auth/v1/signup", "", body, &raw); err != nil {
		return nil, err
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("identity: decode sign-up: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, ErrConfirmationRequired
	}
	return c.establish(ctx, tr, EventSignedIn)
}

// SignOut revokes the session remotely when possible, clears it locally and
// emits SIGNED_OUT.
func (c *Client) SignOut(ctx context.Context) error {
	s, found, err := c.svc.store.Load(ctx, c.sid)
	if err != nil {
		c.svc.log.WarnContext(ctx, "load session for sign-out failed", "err", err)
	}
	if found && s.AccessToken != "" {
		if err := c.svc.do(ctx, http.MethodPost, "/auth/v1/logout", s.AccessToken, nil, nil); err != nil {
			c.svc.log.WarnContext(ctx, "remote logout failed", "err", err)
		}
	}
	if err := c.svc.store.Delete(ctx, c.sid); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.emit(ctx, EventSignedOut, nil)
	return nil
}

// Refresh trades the refresh token for a new session and emits TOKEN_REFRESHED.
// A rejected refresh destroys the session and emits SIGNED_OUT.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	s, found, err := c.svc.store.Load(ctx, c.sid)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found || s.RefreshToken == "" {
		return nil, ErrNoSession
	}

	var tr tokenResponse
	body := map[string]string{"refresh_token": s.RefreshToken}
	if err := c.svc.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &tr); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			if derr := c.svc.store.Delete(ctx, c.sid); derr != nil {
				c.svc.log.WarnContext(ctx, "drop expired session failed", "err", derr)
			}
			c.emit(ctx, EventSignedOut, nil)
		}
		return nil, err
	}
	return c.establish(ctx, tr, EventTokenRefreshed)
}

// EnsureFresh refreshes the session when it expires within the given window.
func (c *Client) EnsureFresh(ctx context.Context, within time.Duration) (*Session, error) {
	s, found, err := c.svc.store.Load(ctx, c.sid)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, ErrNoSession
	}
	if s.ExpiresAt.Sub(c.svc.now()) > within {
		return s, nil
	}
	return c.Refresh(ctx)
}

func (c *Client) establish(ctx context.Context, tr tokenResponse, ev Event) (*Session, error) {
	s, err := c.svc.sessionFrom(tr)
	if err != nil {
		return nil, err
	}
	if err := c.svc.store.Save(ctx, c.sid, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	c.emit(ctx, ev, s)
	return s, nil
}

// sessionFrom trusts only what the verified access token says about the user.
func (s *Service) sessionFrom(tr tokenResponse) (*Session, error) {
	if tr.AccessToken == "" {
		return nil, errors.New("identity: token response without access token")
	}
	claims, err := s.verify.Verify(tr.AccessToken, s.now())
	if err != nil {
		return nil, fmt.Errorf("identity: verify access token: %w", err)
	}
	out := &Session{
		UserID:       claims.UserID(),
		Email:        claims.Email,
		DisplayName:  claims.DisplayName(),
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if out.DisplayName == "" {
		out.DisplayName = tr.User.displayName()
	}
	if out.Email == "" {
		out.Email = tr.User.Email
	}
	return out, nil
}

// do sends one request with retries on transport errors, 429 and 5xx.
func (s *Service) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", err)
		}
		payload = b
	}

	var body []byte
	op := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
		if err != nil {
			return utils.Permanent(err)
		}
		req.Header.Set("apikey", s.anonKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body = b
			return nil
		}
		apiErr := parseAPIError(resp.StatusCode, b)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apiErr
		}
		return utils.Permanent(apiErr)
	}

	err := utils.Retry(ctx, s.retry, op, func(err error, wait time.Duration) {
		s.log.WarnContext(ctx, "identity request retry", "method", method, "path", stripQuery(path), "wait", wait, "err", err)
	})
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("identity: decode %s: %w", stripQuery(path), err)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}
	e.Code = firstString(raw, "error_code", "error", "code")
	e.Message = firstString(raw, "error_description", "msg", "message")
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
