// Package sessions wires the Hub's global, in-memory session table
// (pkg/session) to the per-user and per-channel indices needed by the
// control service, plus the monotonic session id allocator (spec.md §3
// "Session table is in-memory only at Hub").
package sessions

import (
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// Manager is the Hub's authoritative session directory.
type Manager struct {
	table     *session.Table
	allocator *session.Allocator
}

func NewManager() *Manager {
	return &Manager{
		table:     session.NewTable(),
		allocator: session.NewAllocator(),
	}
}

// Allocate reserves a new session id and registers its initial state.
func (m *Manager) Allocate(edgeID string) *session.State {
	id := m.allocator.Next(m.table)
	st := &session.State{
		Session:           id,
		EdgeID:            edgeID,
		ListeningChannels: make(map[int64]bool),
	}
	m.table.Put(st)
	return st
}

// Release removes a session, normally on Edge-reported disconnect
// (hub.userLeft, spec.md §9 Open Questions: Edge->Hub is canonical).
func (m *Manager) Release(id session.ID) {
	m.table.Delete(id)
}

func (m *Manager) Get(id session.ID) (*session.State, bool) {
	return m.table.Get(id)
}

func (m *Manager) Snapshot() []*session.State {
	return m.table.Snapshot()
}

// InChannel returns every session currently occupying channelID, used by
// the control service's channel-remove, text-message and context-action
// handlers.
func (m *Manager) InChannel(channelID int64) []*session.State {
	return m.table.InChannel(channelID)
}

// ByEdge returns every session owned by the given Edge, used when an Edge
// disconnects from the Hub and all of its sessions must be dropped
// (spec.md §3 "Ownership of a session's socket never migrates; on Edge
// loss the session is dropped").
func (m *Manager) ByEdge(edgeID string) []*session.State {
	var out []*session.State
	for _, st := range m.table.Snapshot() {
		if st.EdgeID == edgeID {
			out = append(out, st)
		}
	}
	return out
}

func (m *Manager) Len() int {
	return m.table.Len()
}
