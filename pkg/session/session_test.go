package session

import "testing"

func TestAllocatorSkipsTaken(t *testing.T) {
	table := NewTable()
	table.Put(&State{Session: 1})
	alloc := NewAllocator()
	id := alloc.Next(table)
	if id == 1 {
		t.Fatalf("allocator returned taken id %d", id)
	}
}

func TestAllocatorNeverReturnsZero(t *testing.T) {
	alloc := &Allocator{next: 0}
	table := NewTable()
	id := alloc.Next(table)
	if id == 0 {
		t.Fatal("allocator returned reserved zero id")
	}
}

func TestTablePutGetDelete(t *testing.T) {
	table := NewTable()
	table.Put(&State{Session: 5, Username: "alice", ChannelID: 2})
	got, ok := table.Get(5)
	if !ok || got.Username != "alice" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	table.Delete(5)
	if _, ok := table.Get(5); ok {
		t.Fatal("expected deleted session to be gone")
	}
}

func TestTableInChannel(t *testing.T) {
	table := NewTable()
	table.Put(&State{Session: 1, ChannelID: 2})
	table.Put(&State{Session: 2, ChannelID: 2})
	table.Put(&State{Session: 3, ChannelID: 3})
	if got := table.InChannel(2); len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
}
