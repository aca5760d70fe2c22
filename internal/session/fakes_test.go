package session

import (
	"context"
	"sync"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/identity"
	"voicedesk/internal/orgs"
)

type fakeClient struct {
	mu        sync.Mutex
	session   *identity.Session
	getErr    error
	block     chan struct{}
	signInErr error
	listeners []func(context.Context, identity.AuthEvent)
}

func (f *fakeClient) GetSession(ctx context.Context) (*identity.Session, error) {
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &identity.Session{UserID: "u1", Email: email}, nil
}

func (f *fakeClient) SignUp(ctx context.Context, email, password, displayName string) (*identity.Session, error) {
	return nil, identity.ErrConfirmationRequired
}

func (f *fakeClient) SignOut(ctx context.Context) error { return nil }

func (f *fakeClient) EnsureFresh(ctx context.Context, within time.Duration) (*identity.Session, error) {
	return f.session, nil
}

func (f *fakeClient) OnAuthStateChange(fn func(context.Context, identity.AuthEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakeClient) emit(ev identity.AuthEvent) {
	f.mu.Lock()
	ls := append([]func(context.Context, identity.AuthEvent){}, f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		l(context.Background(), ev)
	}
}

type note struct {
	level, audience, title, message string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) add(level, audience, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{level, audience, title, message})
}

func (n *fakeNotifier) Success(_ context.Context, a, t, m string) { n.add("success", a, t, m) }
func (n *fakeNotifier) Info(_ context.Context, a, t, m string)    { n.add("info", a, t, m) }
func (n *fakeNotifier) Warn(_ context.Context, a, t, m string)    { n.add("warning", a, t, m) }
func (n *fakeNotifier) Error(_ context.Context, a, t, m string)   { n.add("error", a, t, m) }

func (n *fakeNotifier) levels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notes))
	for i, x := range n.notes {
		out[i] = x.level
	}
	return out
}

// gatedOrgs blocks each lookup until release is closed.
type gatedOrgs struct {
	started chan struct{}
	release chan struct{}
	res     orgs.Resolution
}

func (g *gatedOrgs) ResolveDefault(ctx context.Context, userID string) (orgs.Resolution, error) {
	close(g.started)
	<-g.release
	return g.res, nil
}

// tokenOrgs records the access token each lookup ran under.
type tokenOrgs struct {
	mu     sync.Mutex
	tokens []string
}

func (o *tokenOrgs) ResolveDefault(ctx context.Context, userID string) (orgs.Resolution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens = append(o.tokens, auth.AccessToken(ctx))
	return orgs.Resolution{Organization: &orgs.Organization{ID: "o-" + userID}}, nil
}

func sessionFor(userID string) *identity.Session {
	return &identity.Session{
		UserID:       userID,
		Email:        userID + "@example.com",
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}
