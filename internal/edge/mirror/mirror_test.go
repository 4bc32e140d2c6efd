package mirror

import (
	"testing"

	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

func TestPutChannelAndChannels(t *testing.T) {
	m := New()
	m.PutChannel(&channel.Channel{ID: 0, Name: "Root", Children: []int64{1}})
	m.PutChannel(&channel.Channel{ID: 1, ParentID: 0, Name: "Lobby"})

	got := m.Channels()
	if len(got) != 2 {
		t.Fatalf("got %d channels, want 2", len(got))
	}
	if got[0].ID != 0 || got[1].ID != 1 {
		t.Fatalf("want root-first order, got %+v", got)
	}
}

func TestRemoveChannelDropsACLs(t *testing.T) {
	m := New()
	m.PutChannel(&channel.Channel{ID: 1})
	m.PutACLs(1, []acl.Entry{{ChannelID: 1, Group: "all", Allow: acl.Traverse}})

	m.RemoveChannel(1)
	if _, ok := m.Channel(1); ok {
		t.Fatal("channel should be gone")
	}
	if acls := m.ACLsFor(1); len(acls) != 0 {
		t.Fatalf("want no ACLs after removal, got %v", acls)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := New()
	m.PutSession(&session.State{Session: 5, ChannelID: 1, Username: "alice"})

	if _, ok := m.Session(5); !ok {
		t.Fatal("expected session 5 present")
	}
	if in := m.SessionsInChannel(1); len(in) != 1 {
		t.Fatalf("want 1 session in channel 1, got %d", len(in))
	}

	m.RemoveSession(5)
	if _, ok := m.Session(5); ok {
		t.Fatal("session should be removed")
	}
}

func TestObserveTracksSequence(t *testing.T) {
	m := New()
	m.Observe(42)
	if m.LastSequence() != 42 {
		t.Fatalf("got %d, want 42", m.LastSequence())
	}
}

func TestResetClearsState(t *testing.T) {
	m := New()
	m.PutChannel(&channel.Channel{ID: 1})
	m.PutSession(&session.State{Session: 1})

	m.Reset()

	if len(m.Channels()) != 0 {
		t.Fatal("expected empty tree after reset")
	}
	if len(m.Sessions()) != 0 {
		t.Fatal("expected empty sessions after reset")
	}
}
