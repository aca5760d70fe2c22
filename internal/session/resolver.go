package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/internal/identity"
	"voicedesk/internal/orgs"
)

// IdentityClient is the identity store bound to one browser session.
type IdentityClient interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (*identity.Session, error)
	SignOut(ctx context.Context) error
	EnsureFresh(ctx context.Context, within time.Duration) (*identity.Session, error)
	OnAuthStateChange(fn func(context.Context, identity.AuthEvent)) (unsubscribe func())
}

type OrgResolver interface {
	ResolveDefault(ctx context.Context, userID string) (orgs.Resolution, error)
}

// Notifier surfaces non-blocking messages to the browser session.
type Notifier interface {
	Success(ctx context.Context, audience, title, message string)
	Info(ctx context.Context, audience, title, message string)
	Warn(ctx context.Context, audience, title, message string)
	Error(ctx context.Context, audience, title, message string)
}

var ErrClosed = errors.New("session: resolver closed")

const defaultInitTimeout = 1500 * time.Millisecond

type Options struct {
	SessionID   string
	Client      IdentityClient
	Orgs        OrgResolver
	Notifier    Notifier
	Logger      *slog.Logger
	InitTimeout time.Duration
}

// Resolver owns the session and organization state of one browser session.
//
// Session state changes only in response to auth events from the identity
// client. SignIn, SignUp and SignOut delegate and report; the event they
// trigger is what updates the store.
type Resolver struct {
	sid         string
	client      IdentityClient
	orgs        OrgResolver
	notes       Notifier
	log         *slog.Logger
	initTimeout time.Duration

	store *Store

	// events serializes auth-event handling and organization lookups.
	events sync.Mutex

	mounted     atomic.Bool
	lastSeen    atomic.Int64
	unsubscribe func()

	timerMu  sync.Mutex
	fallback *time.Timer
}

func NewResolver(o Options) *Resolver {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = defaultInitTimeout
	}
	r := &Resolver{
		sid:         o.SessionID,
		client:      o.Client,
		orgs:        o.Orgs,
		notes:       o.Notifier,
		log:         o.Logger.With("sid_hash", shortHash(o.SessionID)),
		initTimeout: o.InitTimeout,
		store:       NewStore(),
	}
	r.mounted.Store(true)
	r.touch()
	r.unsubscribe = o.Client.OnAuthStateChange(r.OnAuthEvent)
	return r
}

func (r *Resolver) Snapshot() State { return r.store.Snapshot() }

func (r *Resolver) Subscribe(fn func(State)) (unsubscribe func()) { return r.store.Subscribe(fn) }

// SessionID is the browser session this resolver serves.
func (r *Resolver) SessionID() string { return r.sid }

// Initialize restores an existing session, then resolves its organization.
// Loading is cleared exactly once: when restoration finishes or when the
// fallback timer fires, whichever is first.
func (r *Resolver) Initialize(ctx context.Context) error {
	r.timerMu.Lock()
	r.fallback = time.AfterFunc(r.initTimeout, func() {
		if r.mounted.Load() {
			r.log.Warn("session restore slow; clearing loading state")
			r.dispatch(action{kind: actLoadingDone})
		}
	})
	r.timerMu.Unlock()
	defer func() {
		r.stopFallback()
		r.dispatch(action{kind: actLoadingDone})
	}()

	s, err := r.client.GetSession(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "session restore failed", "err", err)
		r.notify(ctx, levelWarn, "Could not restore your session", "Please sign in again.")
		return err
	}
	if s == nil {
		return nil
	}

	r.events.Lock()
	defer r.events.Unlock()
	return r.applySession(ctx, s, false)
}

// OnAuthEvent applies a push notification from the identity store.
func (r *Resolver) OnAuthEvent(ctx context.Context, ev identity.AuthEvent) {
	r.events.Lock()
	defer r.events.Unlock()
	if !r.mounted.Load() {
		return
	}

	switch ev.Event {
	case identity.EventSignedIn, identity.EventTokenRefreshed:
		if ev.Session == nil {
			return
		}
		_ = r.applySession(ctx, ev.Session, ev.Event == identity.EventSignedIn)
	case identity.EventSignedOut:
		r.dispatch(action{kind: actSessionCleared})
	default:
		r.log.DebugContext(ctx, "ignoring auth event", "event", ev.Event)
	}
}

// applySession sets the session, then resolves the organization as a second
// step. Caller holds r.events.
func (r *Resolver) applySession(ctx context.Context, s *identity.Session, forceOrg bool) error {
	prev := r.store.Snapshot()
	if _, ok := r.dispatch(action{kind: actSessionSet, session: s}); !ok {
		return ErrClosed
	}
	userChanged := prev.User == nil || prev.User.ID != s.UserID
	if !forceOrg && !userChanged && prev.Organization != nil {
		return nil
	}
	_, err := r.resolveOrganization(ctx, s.UserID)
	return err
}

// ResolveDefaultOrganization looks up the user's default organization and
// publishes it. Lookup failures leave no organization and warn the user.
func (r *Resolver) ResolveDefaultOrganization(ctx context.Context, userID string) (*orgs.Organization, error) {
	r.events.Lock()
	defer r.events.Unlock()
	return r.resolveOrganization(ctx, userID)
}

// resolveOrganization queries under the session's access token when the
// session belongs to userID, so membership reads see the user's policies.
func (r *Resolver) resolveOrganization(ctx context.Context, userID string) (*orgs.Organization, error) {
	if st := r.store.Snapshot(); auth.AccessToken(ctx) == "" && st.Session != nil && st.Session.UserID == userID {
		ctx = auth.WithAccessToken(ctx, st.Session.AccessToken)
	}
	res, err := r.orgs.ResolveDefault(ctx, userID)
	if !r.mounted.Load() {
		return nil, ErrClosed
	}
	if err != nil {
		r.log.ErrorContext(ctx, "organization lookup failed", "user_id", userID, "err", err)
		r.notify(ctx, levelWarn, "Organization unavailable", "Some features are limited until it loads.")
		r.dispatch(action{kind: actOrgResolved})
		return nil, err
	}
	if res.Warning != "" {
		r.notify(ctx, levelWarn, "Organization", res.Warning)
	}
	r.dispatch(action{kind: actOrgResolved, resolution: res})
	return res.Organization, nil
}

// SignIn delegates to the identity store and reports the outcome.
func (r *Resolver) SignIn(ctx context.Context, email, password string) error {
	r.touch()
	if _, err := r.client.SignInWithPassword(ctx, email, password); err != nil {
		r.log.WarnContext(ctx, "sign-in failed", "err", err)
		r.notify(ctx, levelError, "Sign-in failed", UserMessage(err))
		return err
	}
	r.notify(ctx, levelSuccess, "Signed in", "")
	return nil
}

// SignUp delegates registration. ErrConfirmationRequired is reported as
// information, not failure, and still returned.
func (r *Resolver) SignUp(ctx context.Context, email, password, displayName string) error {
	r.touch()
	_, err := r.client.SignUp(ctx, email, password, displayName)
	switch {
	case errors.Is(err, identity.ErrConfirmationRequired):
		r.notify(ctx, levelInfo, "Check your email", "Confirm your address to finish signing up.")
		return err
	case err != nil:
		r.log.WarnContext(ctx, "sign-up failed", "err", err)
		r.notify(ctx, levelError, "Sign-up failed", UserMessage(err))
		return err
	}
	r.notify(ctx, levelSuccess, "Account created", "")
	return nil
}

func (r *Resolver) SignOut(ctx context.Context) error {
	r.touch()
	if err := r.client.SignOut(ctx); err != nil {
		r.log.WarnContext(ctx, "sign-out failed", "err", err)
		r.notify(ctx, levelError, "Sign-out failed", UserMessage(err))
		return err
	}
	r.notify(ctx, levelInfo, "Signed out", "")
	return nil
}

// Fresh returns the current state, refreshing the token first when it is
// about to expire.
func (r *Resolver) Fresh(ctx context.Context, within time.Duration) State {
	r.touch()
	st := r.store.Snapshot()
	if st.Session == nil || time.Until(st.Session.ExpiresAt) > within {
		return st
	}
	if _, err := r.client.EnsureFresh(ctx, within); err != nil {
		r.log.WarnContext(ctx, "token refresh failed", "err", err)
	}
	return r.store.Snapshot()
}

// Close unmounts the resolver. Lookups still in flight finish but their
// results are dropped.
func (r *Resolver) Close() {
	if !r.mounted.CompareAndSwap(true, false) {
		return
	}
	r.stopFallback()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Resolver) dispatch(a action) (State, bool) {
	if !r.mounted.Load() {
		return State{}, false
	}
	return r.store.dispatch(a), true
}

func (r *Resolver) stopFallback() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.fallback != nil {
		r.fallback.Stop()
	}
}

type level int

const (
	levelSuccess level = iota
	levelInfo
	levelWarn
	levelError
)

func (r *Resolver) notify(ctx context.Context, lvl level, title, message string) {
	if r.notes == nil {
		return
	}
	switch lvl {
	case levelSuccess:
		r.notes.Success(ctx, r.sid, title, message)
	case levelInfo:
		r.notes.Info(ctx, r.sid, title, message)
	case levelWarn:
		r.notes.Warn(ctx, r.sid, title, message)
	default:
		r.notes.Error(ctx, r.sid, title, message)
	}
}

func (r *Resolver) touch() { r.lastSeen.Store(time.Now().UnixNano()) }

func (r *Resolver) idleSince() time.Time { return time.Unix(0, r.lastSeen.Load()) }

// UserMessage is the user-facing text for an identity failure.
func UserMessage(err error) string {
	var apiErr *identity.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "Email and password are required."
	default:
		return "Please try again."
	}
}
