package session

import (
	"sync"

	"voicedesk/internal/identity"
	"voicedesk/internal/orgs"
)

// SignInPath is where a signed-out browser is sent.
const SignInPath = "/sign-in"

// State is the current session and organization of one browser session.
// Values handed out are copies; mutate only through dispatch.
type State struct {
	Loading      bool               `json:"loading"`
	Session      *identity.Session  `json:"session"`
	User         *identity.User     `json:"user"`
	Organization *orgs.Organization `json:"organization"`
	OrgWarning   string             `json:"org_warning,omitempty"`
	Degraded     bool               `json:"degraded,omitempty"`
	Navigate     string             `json:"navigate,omitempty"`

	loadingCleared bool
}

// SignedIn reports whether a session is present.
func (s State) SignedIn() bool { return s.Session != nil }

func (s State) clone() State {
	out := s
	if s.Session != nil {
		cp := *s.Session
		out.Session = &cp
	}
	if s.User != nil {
		cp := *s.User
		out.User = &cp
	}
	if s.Organization != nil {
		cp := *s.Organization
		out.Organization = &cp
	}
	return out
}

type actionKind int

const (
	actSessionSet actionKind = iota + 1
	actSessionCleared
	actOrgResolved
	actLoadingDone
)

type action struct {
	kind       actionKind
	session    *identity.Session
	resolution orgs.Resolution
}

// reduce is the only place State changes.
func reduce(s State, a action) State {
	switch a.kind {
	case actSessionSet:
		if a.session == nil {
			return s
		}
		if s.User != nil && s.User.ID != a.session.UserID {
			s.Organization, s.OrgWarning, s.Degraded = nil, "", false
		}
		s.Session = a.session
		s.User = a.session.User()
		s.Navigate = ""
	case actSessionCleared:
		s.Session, s.User = nil, nil
		s.Organization, s.OrgWarning, s.Degraded = nil, "", false
		s.Navigate = SignInPath
	case actOrgResolved:
		if s.Session == nil {
			return s
		}
		s.Organization = a.resolution.Organization
		s.OrgWarning = a.resolution.Warning
		s.Degraded = a.resolution.Degraded
	case actLoadingDone:
		if s.loadingCleared {
			return s
		}
		s.Loading = false
		s.loadingCleared = true
	}
	return s
}

type subscriber struct {
	id int
	fn func(State)
}

// Store holds State behind a single dispatch path and fans out snapshots.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   []subscriber
	nextID int
}

func NewStore() *Store {
	return &Store{state: State{Loading: true}}
}

// Snapshot returns a copy of the current state.
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.clone()
}

// Subscribe calls fn with every new state, in registration order.
func (st *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextID++
	id := st.nextID
	st.subs = append(st.subs, subscriber{id: id, fn: fn})
	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, s := range st.subs {
			if s.id == id {
				st.subs = append(st.subs[:i:i], st.subs[i+1:]...)
				return
			}
		}
	}
}

func (st *Store) dispatch(a action) State {
	st.mu.Lock()
	st.state = reduce(st.state, a)
	snap := st.state.clone()
	subs := make([]subscriber, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	for _, s := range subs {
		s.fn(snap.clone())
	}
	return snap
}
