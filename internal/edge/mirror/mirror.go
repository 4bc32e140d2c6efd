// Package mirror is each Edge's read-only local copy of Hub-owned state:
// channel tree, ACLs, cluster-wide session index and bans, kept current by
// applying Hub broadcasts as they arrive over pkg/clusterproto (spec.md §3
// "Cluster view ... Edge-held mirror of sessions + channel tree + ACLs +
// bans, with (last_sequence, last_timestamp)").
package mirror

import (
	"net"
	"sync"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/bancache"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/database"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// Mirror is safe for concurrent use: the dispatcher applies broadcasts from
// the RPC receive loop while client-handling goroutines read it.
type Mirror struct {
	mu     sync.RWMutex
	tree   *channel.Tree
	acls   map[int64][]acl.Entry
	groups map[int64]map[string]acl.Group

	sessions *session.Table
	bans     *bancache.Cache

	lastSequence  int64
	lastTimestamp time.Time
}

func New() *Mirror {
	return &Mirror{
		tree:     channel.NewTree(),
		acls:     make(map[int64][]acl.Entry),
		groups:   make(map[int64]map[string]acl.Group),
		sessions: session.NewTable(),
		bans:     bancache.New(),
	}
}

// ---- sequencing ----

// Observe records the sequence number carried by an applied broadcast, used
// to detect gaps (spec.md §4.6 "every broadcast carries a monotonic
// sequence").
func (m *Mirror) Observe(sequence int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSequence = sequence
	m.lastTimestamp = time.Now()
}

func (m *Mirror) LastSequence() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSequence
}

// ---- channel tree ----

func (m *Mirror) PutChannel(c *channel.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Put(c)
}

func (m *Mirror) RemoveChannel(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(id)
	delete(m.acls, id)
	delete(m.groups, id)
}

func (m *Mirror) Channel(id int64) (*channel.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Get(id)
}

// Channels returns every channel currently known to the mirror, in
// root-down, depth-first order.
func (m *Mirror) Channels() []*channel.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*channel.Channel, 0, m.tree.Len())
	seen := make(map[int64]bool)
	var walk func(id int64)
	walk = func(id int64) {
		c, ok := m.tree.Get(id)
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, c)
		for _, childID := range c.Children {
			walk(childID)
		}
	}
	walk(channel.RootID)
	return out
}

// Descendants returns channelID plus every channel in its subtree, for
// voice-target "children" expansion (§4.5).
func (m *Mirror) Descendants(channelID int64) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Descendants(channelID)
}

// LinkedSet returns channelID plus every channel transitively reachable via
// channel links, for voice-target "links" expansion (§4.5).
func (m *Mirror) LinkedSet(channelID int64) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.LinkedSet(channelID)
}

// ---- ACLs ----

func (m *Mirror) PutACLs(channelID int64, entries []acl.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acls[channelID] = entries
}

func (m *Mirror) ACLsFor(channelID int64) []acl.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]acl.Entry(nil), m.acls[channelID]...)
}

// PutGroups stores channelID's declared channel groups, keyed by name, as
// synced by edge.fullSync; a hub.aclUpdated notification clears them
// (§3 "Channel group").
func (m *Mirror) PutGroups(channelID int64, groups []acl.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := make(map[string]acl.Group, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}
	m.groups[channelID] = byName
}

// GroupMembers resolves the effective add/remove set for a named group at
// channelID by walking the ancestry, mirroring internal/hub/store.Store's
// own GroupMembers (§3 "Effective membership at a descendant channel =
// (inherited-set ∪ add) \ remove, provided ancestor group is inheritable and
// this group is inherit"). Only explicit per-user Add/Remove membership is
// resolved here — Mumble's special group names ("all", "none", "in", "out",
// "sub") are not modeled since no channel group ever declares them.
func (m *Mirror) GroupMembers(channelID int64, groupName string) (add, remove []int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.tree.Ancestry(channelID)
	addSet := make(map[int64]bool)
	removeSet := make(map[int64]bool)
	here, hasHere := m.groups[channelID][groupName]

	for _, c := range chain {
		g, ok := m.groups[c.ID][groupName]
		if !ok {
			continue
		}
		declaredHere := c.ID == channelID
		if !declaredHere && (!g.Inheritable || (hasHere && !here.Inherit)) {
			continue
		}
		for _, id := range g.Add {
			addSet[id] = true
			delete(removeSet, id)
		}
		for _, id := range g.Remove {
			removeSet[id] = true
			delete(addSet, id)
		}
	}

	for id := range addSet {
		add = append(add, id)
	}
	for id := range removeSet {
		remove = append(remove, id)
	}
	return add, remove
}

// InGroup reports whether userID is an effective member of groupName at
// channelID.
func (m *Mirror) InGroup(channelID int64, groupName string, userID int64) bool {
	add, remove := m.GroupMembers(channelID, groupName)
	for _, id := range remove {
		if id == userID {
			return false
		}
	}
	for _, id := range add {
		if id == userID {
			return true
		}
	}
	return false
}

// ---- sessions ----

func (m *Mirror) PutSession(s *session.State) {
	m.sessions.Put(s)
}

func (m *Mirror) RemoveSession(id session.ID) {
	m.sessions.Delete(id)
}

func (m *Mirror) Session(id session.ID) (*session.State, bool) {
	return m.sessions.Get(id)
}

func (m *Mirror) Sessions() []*session.State {
	return m.sessions.Snapshot()
}

func (m *Mirror) SessionsInChannel(channelID int64) []*session.State {
	return m.sessions.InChannel(channelID)
}

// ---- bans ----

func (m *Mirror) LoadBans(rows []database.Ban) {
	m.bans.Load(rows)
}

func (m *Mirror) CheckBan(addr net.IP, certHash string) (banned bool, reason string) {
	return m.bans.Check(addr, certHash)
}

// Reset clears the channel tree, ACLs, groups and sessions, used before
// replaying a fresh edge.fullSync after a reconnect. The ban cache and the
// last applied sequence number are left as they are.
func (m *Mirror) Reset() {
	m.mu.Lock()
	m.tree = channel.NewTree()
	m.acls = make(map[int64][]acl.Entry)
	m.groups = make(map[int64]map[string]acl.Group)
	m.mu.Unlock()
	m.sessions = session.NewTable()
}
