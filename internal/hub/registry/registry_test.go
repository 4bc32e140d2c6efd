package registry

import (
	"testing"
	"time"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	r := New(time.Minute)
	r.Register(&Edge{ID: "e1", Host: "127.0.0.1", Port: 8443})
	if !r.Heartbeat("e1", 5) {
		t.Fatal("expected heartbeat to succeed for registered edge")
	}
	if r.Heartbeat("unknown", 5) {
		t.Fatal("expected heartbeat to fail for unknown edge")
	}
}

func TestSweepOfflineMarksTimedOutEdges(t *testing.T) {
	r := New(20 * time.Millisecond)
	r.Register(&Edge{ID: "e1"})
	time.Sleep(40 * time.Millisecond)

	offline := r.SweepOffline()
	if len(offline) != 1 || offline[0] != "e1" {
		t.Fatalf("got %v, want [e1]", offline)
	}
	e, _ := r.Get("e1")
	if e.Online {
		t.Fatal("expected edge to be marked offline")
	}

	// A second sweep shouldn't re-report the same transition.
	if again := r.SweepOffline(); len(again) != 0 {
		t.Fatalf("expected no repeat transitions, got %v", again)
	}
}

func TestOnlineFiltersOfflineEdges(t *testing.T) {
	r := New(time.Minute)
	r.Register(&Edge{ID: "e1"})
	r.Register(&Edge{ID: "e2"})
	r.Heartbeat("e2", 0)
	// force e1 offline manually via a near-zero timeout registry instead
	r2 := New(time.Nanosecond)
	r2.Register(&Edge{ID: "e1"})
	time.Sleep(time.Millisecond)
	r2.SweepOffline()
	if len(r2.Online()) != 0 {
		t.Fatal("expected no online edges after sweep")
	}
	if len(r.Online()) != 2 {
		t.Fatalf("got %d online, want 2", len(r.Online()))
	}
}
