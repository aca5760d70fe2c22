package session

import (
	"testing"

	"voicedesk/internal/orgs"
)

func TestReduce_LoadingClearedOnce(t *testing.T) {
	s := State{Loading: true}
	s = reduce(s, action{kind: actLoadingDone})
	if s.Loading || !s.loadingCleared {
		t.Fatalf("expected loading cleared")
	}
	s.Loading = true // would only happen through a bug elsewhere
	s = reduce(s, action{kind: actLoadingDone})
	if !s.Loading {
		t.Fatalf("second loadingDone must be a no-op")
	}
}

func TestReduce_SessionClearedResetsEverything(t *testing.T) {
	s := reduce(State{}, action{kind: actSessionSet, session: sessionFor("u1")})
	s = reduce(s, action{kind: actOrgResolved, resolution: orgs.Resolution{Organization: &orgs.Organization{ID: "o1"}}})
	if s.Organization == nil || s.User == nil || s.User.ID != "u1" {
		t.Fatalf("expected user and org set, got %+v", s)
	}

	s = reduce(s, action{kind: actSessionCleared})
	if s.Session != nil || s.User != nil || s.Organization != nil {
		t.Fatalf("expected cleared state, got %+v", s)
	}
	if s.Navigate != SignInPath {
		t.Fatalf("expected navigation to sign-in, got %q", s.Navigate)
	}
}

func TestReduce_OrgIgnoredWithoutSession(t *testing.T) {
	s := reduce(State{}, action{kind: actOrgResolved, resolution: orgs.Resolution{Organization: &orgs.Organization{ID: "o1"}}})
	if s.Organization != nil {
		t.Fatalf("expected org ignored while signed out")
	}
}

func TestReduce_UserSwitchDropsOrganization(t *testing.T) {
	s := reduce(State{}, action{kind: actSessionSet, session: sessionFor("u1")})
	s = reduce(s, action{kind: actOrgResolved, resolution: orgs.Resolution{Organization: &orgs.Organization{ID: "o1"}}})
	s = reduce(s, action{kind: actSessionSet, session: sessionFor("u2")})
	if s.Organization != nil {
		t.Fatalf("expected stale org dropped on user switch")
	}
}

func TestStore_SnapshotsAreCopies(t *testing.T) {
	st := NewStore()
	st.dispatch(action{kind: actSessionSet, session: sessionFor("u1")})

	snap := st.Snapshot()
	snap.Session.UserID = "mutated"
	if st.Snapshot().Session.UserID != "u1" {
		t.Fatalf("snapshot mutation leaked into store")
	}
}

func TestStore_SubscribersInOrder(t *testing.T) {
	st := NewStore()
	var order []int
	st.Subscribe(func(State) { order = append(order, 1) })
	off := st.Subscribe(func(State) { order = append(order, 2) })
	st.dispatch(action{kind: actLoadingDone})
	off()
	st.dispatch(action{kind: actLoadingDone})
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("unexpected order %v", order)
	}
}
