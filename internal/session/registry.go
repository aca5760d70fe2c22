package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"voicedesk/internal/auth"
)

// refreshWindow is how close to expiry a token is refreshed before use.
const refreshWindow = time.Minute

type RegistryOptions struct {
	// Clients returns the identity client for a browser session id.
	Clients     func(sid string) IdentityClient
	Orgs        OrgResolver
	Notifier    Notifier
	Logger      *slog.Logger
	InitTimeout time.Duration
}

type entry struct {
	r *Resolver

	// mu serializes restore attempts; restored is set once one succeeds.
	mu       sync.Mutex
	restored bool
}

// Registry keeps one live Resolver per browser session id.
type Registry struct {
	opts RegistryOptions
	log  *slog.Logger

	mu        sync.Mutex
	resolvers map[string]*entry
}

func NewRegistry(o RegistryOptions) *Registry {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Registry{opts: o, log: o.Logger, resolvers: map[string]*entry{}}
}

// Get returns the resolver for sid if one is live.
func (g *Registry) Get(sid string) (*Resolver, bool) {
	g.mu.Lock()
	e, ok := g.resolvers[sid]
	g.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.r.touch()
	return e.r, true
}

// GetOrCreate returns the resolver for sid, creating and initializing it on
// first use. Concurrent callers wait for the same initialization. A failed
// restore is attempted again on the next call until one succeeds or a
// session arrives some other way.
func (g *Registry) GetOrCreate(ctx context.Context, sid string) *Resolver {
	g.mu.Lock()
	e, ok := g.resolvers[sid]
	if !ok {
		e = &entry{r: NewResolver(Options{
			SessionID:   sid,
			Client:      g.opts.Clients(sid),
			Orgs:        g.opts.Orgs,
			Notifier:    g.opts.Notifier,
			Logger:      g.log,
			InitTimeout: g.opts.InitTimeout,
		})}
		g.resolvers[sid] = e
	}
	g.mu.Unlock()

	e.mu.Lock()
	if !e.restored && e.r.Snapshot().Session == nil {
		// Errors are logged and surfaced by Initialize itself. A request
		// cancelled mid-restore must not poison later ones.
		err := e.r.Initialize(context.WithoutCancel(ctx))
		e.restored = err == nil || e.r.Snapshot().Session != nil
	}
	e.mu.Unlock()
	e.r.touch()
	return e.r
}

// Remove closes and forgets the resolver for sid.
func (g *Registry) Remove(sid string) {
	g.mu.Lock()
	e, ok := g.resolvers[sid]
	delete(g.resolvers, sid)
	g.mu.Unlock()
	if ok {
		e.r.Close()
	}
}

// Sweep closes resolvers idle for longer than idle and returns how many.
func (g *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	var stale []*Resolver

	g.mu.Lock()
	for sid, e := range g.resolvers {
		if e.r.idleSince().Before(cutoff) {
			stale = append(stale, e.r)
			delete(g.resolvers, sid)
		}
	}
	g.mu.Unlock()

	for _, r := range stale {
		r.Close()
	}
	if len(stale) > 0 {
		g.log.Info("idle sessions evicted", "count", len(stale))
	}
	return len(stale)
}

// Len is the number of live resolvers.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.resolvers)
}

// Shutdown closes every resolver.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	all := g.resolvers
	g.resolvers = map[string]*entry{}
	g.mu.Unlock()
	for _, e := range all {
		e.r.Close()
	}
}

// Principal implements auth.SessionSource.
func (g *Registry) Principal(ctx context.Context, sid string) (auth.Principal, bool) {
	st := g.GetOrCreate(ctx, sid).Fresh(ctx, refreshWindow)
	if st.Session == nil {
		return auth.Principal{}, false
	}
	p := auth.Principal{
		UserID:      st.Session.UserID,
		Email:       st.Session.Email,
		AccessToken: st.Session.AccessToken,
	}
	if st.Organization != nil {
		p.OrgID = st.Organization.ID
		p.Role = st.Organization.Role
	}
	return p, true
}

func shortHash(sid string) string {
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:4])
}
