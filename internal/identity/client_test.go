package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicedesk/internal/identity/identitytest"
	"voicedesk/pkg/utils"
)

func newTestService(t *testing.T, srv *identitytest.Server, store TokenStore) *Service {
	t.Helper()
	svc, err := NewService(Options{
		BaseURL:  srv.URL,
		AnonKey:  identitytest.AnonKey,
		Verifier: srv.Manager,
		Store:    store,
		Retry:    utils.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

type recorder struct{ events []AuthEvent }

func (r *recorder) listen(_ context.Context, ev AuthEvent) { r.events = append(r.events, ev) }

func (r *recorder) kinds() []Event {
	out := make([]Event, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

func TestSignInWithPassword_StoresSessionAndEmitsSignedIn(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	uid := srv.AddUser("ada@example.com", "pw", "Ada")

	store := NewMemoryTokenStore()
	c := newTestService(t, srv, store).Client("sid-1")
	var rec recorder
	c.OnAuthStateChange(rec.listen)

	s, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.UserID != uid || s.DisplayName != "Ada" {
		t.Fatalf("unexpected session %+v", s)
	}
	if len(rec.events) != 1 || rec.events[0].Event != EventSignedIn || rec.events[0].Session.UserID != uid {
		t.Fatalf("expected one SIGNED_IN event, got %+v", rec.kinds())
	}
	stored, found, _ := store.Load(context.Background(), "sid-1")
	if !found || stored.AccessToken == "" || stored.RefreshToken == "" {
		t.Fatalf("expected tokens stored, got %+v", stored)
	}
}

func TestSignInWithPassword_RejectedCredentials(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.AddUser("ada@example.com", "pw", "Ada")

	store := NewMemoryTokenStore()
	c := newTestService(t, srv, store).Client("sid-1")
	var rec recorder
	c.OnAuthStateChange(rec.listen)

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 || apiErr.Message != "Invalid login credentials" {
		t.Fatalf("expected 400 api error, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("expected no events, got %v", rec.kinds())
	}
	if _, found, _ := store.Load(context.Background(), "sid-1"); found {
		t.Fatalf("expected nothing stored")
	}
	if srv.Calls("/auth/v1/token") != 1 {
		t.Fatalf("client errors must not be retried")
	}
}

func TestSignUp_ConfirmationPending(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.RequireConfirmation(true)

	c := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-1")
	var rec recorder
	c.OnAuthStateChange(rec.listen)

	if _, err := c.SignUp(context.Background(), "new@example.com", "pw", "New"); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestSignUp_WithSessionSignsIn(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()

	c := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-1")
	var rec recorder
	c.OnAuthStateChange(rec.listen)

	s, err := c.SignUp(context.Background(), "new@example.com", "pw", "Newton")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if s.DisplayName != "Newton" {
		t.Fatalf("expected display name carried, got %q", s.DisplayName)
	}
	if len(rec.events) != 1 || rec.events[0].Event != EventSignedIn {
		t.Fatalf("expected SIGNED_IN, got %v", rec.kinds())
	}
}

func TestGetSession_RefreshesNearExpiry(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.AddUser("ada@example.com", "pw", "Ada")
	srv.SetTokenTTL(30 * time.Second)

	c := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-1")
	if _, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	srv.SetTokenTTL(time.Hour)

	var rec recorder
	c.OnAuthStateChange(rec.listen)
	s, err := c.GetSession(context.Background())
	if err != nil || s == nil {
		t.Fatalf("expected refreshed session, got %v %v", s, err)
	}
	if time.Until(s.ExpiresAt) < 30*time.Minute {
		t.Fatalf("expected extended expiry, got %s", s.ExpiresAt)
	}
	if len(rec.events) != 1 || rec.events[0].Event != EventTokenRefreshed {
		t.Fatalf("expected TOKEN_REFRESHED, got %v", rec.kinds())
	}
}

func TestGetSession_NoSession(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()

	s, err := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-x").GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("expected nil session, got %v %v", s, err)
	}
}

func TestGetSession_RetriesTransientFailure(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.AddUser("ada@example.com", "pw", "Ada")

	c := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-1")
	if _, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	srv.FailNext("/auth/v1/user", 1)

	s, err := c.GetSession(context.Background())
	if err != nil || s == nil || s.Email != "ada@example.com" {
		t.Fatalf("expected session after retry, got %v %v", s, err)
	}
	if srv.Calls("/auth/v1/user") != 2 {
		t.Fatalf("expected 2 user calls, got %d", srv.Calls("/auth/v1/user"))
	}
}

func TestRefresh_RejectedSignsOut(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.AddUser("ada@example.com", "pw", "Ada")

	store := NewMemoryTokenStore()
	c := newTestService(t, srv, store).Client("sid-1")
	if _, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	srv.RevokeRefreshTokens()

	var rec recorder
	c.OnAuthStateChange(rec.listen)
	if _, err := c.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if len(rec.events) != 1 || rec.events[0].Event != EventSignedOut || rec.events[0].Session != nil {
		t.Fatalf("expected SIGNED_OUT, got %v", rec.kinds())
	}
	if _, found, _ := store.Load(context.Background(), "sid-1"); found {
		t.Fatalf("expected session destroyed")
	}
}

func TestEnsureFresh_KeepsValidSession(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.AddUser("ada@example.com", "pw", "Ada")

	c := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-1")
	first, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	got, err := c.EnsureFresh(context.Background(), time.Minute)
	if err != nil || got.AccessToken != first.AccessToken {
		t.Fatalf("expected same session, got %v", err)
	}
	if srv.Calls("/auth/v1/token") != 1 {
		t.Fatalf("expected no refresh call")
	}
}

func TestSignOut_ClearsAndEmits(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()
	srv.AddUser("ada@example.com", "pw", "Ada")

	store := NewMemoryTokenStore()
	c := newTestService(t, srv, store).Client("sid-1")
	if _, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	var rec recorder
	c.OnAuthStateChange(rec.listen)
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if srv.Calls("/auth/v1/logout") != 1 {
		t.Fatalf("expected remote logout")
	}
	if len(rec.events) != 1 || rec.events[0].Event != EventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %v", rec.kinds())
	}
	if _, found, _ := store.Load(context.Background(), "sid-1"); found {
		t.Fatalf("expected session cleared")
	}
}

func TestOnAuthStateChange_OrderAndUnsubscribe(t *testing.T) {
	srv := identitytest.New("secret")
	defer srv.Close()

	c := newTestService(t, srv, NewMemoryTokenStore()).Client("sid-1")
	var order []string
	c.OnAuthStateChange(func(context.Context, AuthEvent) { order = append(order, "a") })
	off := c.OnAuthStateChange(func(context.Context, AuthEvent) { order = append(order, "b") })
	c.OnAuthStateChange(func(context.Context, AuthEvent) { order = append(order, "c") })

	c.emit(context.Background(), EventSignedOut, nil)
	off()
	c.emit(context.Background(), EventSignedOut, nil)

	want := "abcac"
	got := ""
	for _, s := range order {
		got += s
	}
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewService_RequiresVerifierAndStore(t *testing.T) {
	if _, err := NewService(Options{BaseURL: "http://x", AnonKey: "k"}); err == nil {
		t.Fatalf("expected error without verifier")
	}
}
