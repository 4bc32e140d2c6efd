// Package store is the Hub's single in-memory authority over the channel
// tree, ACLs and channel groups, backed durably by pkg/database. It
// implements internal/hub/permission.Store directly and is the only
// component permitted to mutate channel/ACL state (spec.md §5 "single-
// writer-per-channel").
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/database"
)

// Store holds the hydrated in-memory mirror plus a handle to the durable
// backing store for every mutation.
type Store struct {
	db       *database.DB
	serverID uint64

	mu     sync.RWMutex
	tree   *channel.Tree
	acls   map[int64][]acl.Entry          // channelID -> entries declared there
	groups map[int64]map[string]acl.Group // channelID -> name -> group
}

// Load hydrates a Store from the durable database for serverID, creating
// the root channel if the database has none yet.
func Load(db *database.DB, serverID uint64) (*Store, error) {
	s := &Store{db: db, serverID: serverID, tree: channel.NewTree(),
		acls: make(map[int64][]acl.Entry), groups: make(map[int64]map[string]acl.Group)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	if s.tree.Len() == 0 {
		if err := s.createRoot(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) createRoot() error {
	tx := s.db.Tx()
	row := &database.Channel{ID: channel.RootID, ServerID: s.serverID, ParentID: channel.RootID, Name: "Root", InheritACL: false}
	if err := tx.ChannelCreate(row); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.reload()
}

func (s *Store) reload() error {
	tx := s.db.Tx()
	rows, err := tx.ChannelRead(s.serverID)
	if err != nil {
		tx.Rollback()
		return err
	}
	links, err := tx.ChannelLinksRead(s.serverID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	tree := channel.NewTree()
	linksByChannel := make(map[int64][]int64)
	for _, l := range links {
		linksByChannel[l.ChannelID] = append(linksByChannel[l.ChannelID], l.LinkedID)
	}
	for _, r := range rows {
		tree.Put(&channel.Channel{
			ID: r.ID, ParentID: r.ParentID, Name: r.Name, Position: r.Position,
			Description: r.Description, Temporary: r.Temporary, InheritACL: r.InheritACL,
			MaxUsers: r.MaxUsers, Links: linksByChannel[r.ID],
		})
	}
	for _, r := range rows {
		if r.ID == r.ParentID {
			continue
		}
		if p, ok := tree.Get(r.ParentID); ok {
			p.Children = append(p.Children, r.ID)
		}
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()

	for _, r := range rows {
		if err := s.reloadChannelACLs(r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) reloadChannelACLs(channelID int64) error {
	tx := s.db.Tx()
	rows, err := tx.ACLRead(s.serverID, channelID)
	if err != nil {
		tx.Rollback()
		return err
	}
	groupRows, err := tx.GroupsRead(s.serverID, channelID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	entries := make([]acl.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, acl.Entry{
			ChannelID: r.ChannelID, UserID: r.UserID, Group: r.Group,
			ApplyHere: r.ApplyHere, ApplySubs: r.ApplySubs,
			Allow: acl.Permission(r.Allow), Deny: acl.Permission(r.Deny),
		})
	}

	groups := make(map[string]acl.Group, len(groupRows))
	for _, g := range groupRows {
		add, remove, err := s.loadGroupMembers(g.ID)
		if err != nil {
			return err
		}
		groups[g.Name] = acl.Group{
			ChannelID: g.ChannelID, Name: g.Name, Inherit: g.Inherit, Inheritable: g.Inheritable,
			Add: add, Remove: remove,
		}
	}

	s.mu.Lock()
	s.acls[channelID] = entries
	s.groups[channelID] = groups
	s.mu.Unlock()
	return nil
}

func (s *Store) loadGroupMembers(groupID int64) (add, remove []int64, err error) {
	tx := s.db.Tx()
	members, err := tx.GroupMembersRead(groupID)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	for _, m := range members {
		if m.Remove {
			remove = append(remove, m.UserID)
		} else {
			add = append(add, m.UserID)
		}
	}
	return add, remove, nil
}

// ---- permission.Store ----

func (s *Store) Ancestry(channelID int64) []*channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Ancestry(channelID)
}

func (s *Store) ACLsFor(channelID int64) []acl.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]acl.Entry(nil), s.acls[channelID]...)
}

// GroupsFor returns the channel groups declared directly at channelID (not
// the resolved membership GroupMembers computes), for edge.fullSync to hand
// to internal/edge/mirror so VoiceTarget group filtering can be evaluated
// Edge-side.
func (s *Store) GroupsFor(channelID int64) []acl.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]acl.Group, 0, len(s.groups[channelID]))
	for _, g := range s.groups[channelID] {
		groups = append(groups, g)
	}
	return groups
}

// GroupMembers resolves the effective add/remove set for a named group at
// channelID, walking the ancestry to fold in inherited membership per
// spec.md §3: "Effective membership at a descendant channel = (inherited-set
// ∪ add) \ remove, provided ancestor group is inheritable and this group is
// inherit."
func (s *Store) GroupMembers(channelID, _ int64, groupName string) (add, remove []int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.tree.Ancestry(channelID)
	addSet := make(map[int64]bool)
	removeSet := make(map[int64]bool)
	here, hasHere := s.groups[channelID][groupName]

	for _, c := range chain {
		g, ok := s.groups[c.ID][groupName]
		if !ok {
			continue
		}
		declaredHere := c.ID == channelID
		if !declaredHere && !g.Inheritable {
			continue
		}
		if !declaredHere && hasHere && !here.Inherit {
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
	sort.Slice(add, func(i, j int) bool { return add[i] < add[j] })
	sort.Slice(remove, func(i, j int) bool { return remove[i] < remove[j] })
	return add, remove
}

// ---- Channel tree lookups for the control service ----

func (s *Store) Channel(id int64) (*channel.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Get(id)
}

func (s *Store) Children(parentID int64) []*channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*channel.Channel
	parent, ok := s.tree.Get(parentID)
	if !ok {
		return nil
	}
	for _, id := range parent.Children {
		if c, ok := s.tree.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Descendants returns id itself plus every channel beneath it, root-to-leaf
// order (a channel always precedes its children), resolved from the
// id-only Tree.Descendants walk.
func (s *Store) Descendants(id int64) []*channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.tree.Descendants(id)
	out := make([]*channel.Channel, 0, len(ids))
	for _, cid := range ids {
		if c, ok := s.tree.Get(cid); ok {
			out = append(out, c)
		}
	}
	return out
}

// SiblingNameCollision reports whether name (case-insensitive) collides
// with an existing child of parentID, excluding excludeID (used on rename).
func (s *Store) SiblingNameCollision(parentID, excludeID int64, name string) bool {
	for _, c := range s.Children(parentID) {
		if c.ID != excludeID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// WouldCycle reports whether reparenting channelID under newParent would
// create a cycle (spec.md §4.8 "walk new-parent chain toward root; reject
// if target channel encountered").
func (s *Store) WouldCycle(channelID, newParent int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.tree.Ancestry(newParent) {
		if c.ID == channelID {
			return true
		}
	}
	return false
}

// CreateChannel persists a new channel under parentID and refreshes the
// in-memory tree.
func (s *Store) CreateChannel(parentID int64, name string, position int32, temporary bool) (*channel.Channel, error) {
	tx := s.db.Tx()
	row := &database.Channel{ServerID: s.serverID, ParentID: parentID, Name: name, Position: position, Temporary: temporary, InheritACL: true}
	if err := tx.ChannelCreate(row); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	c, ok := s.Channel(row.ID)
	if !ok {
		return nil, fmt.Errorf("store: channel %d missing after create", row.ID)
	}
	return c, nil
}

// UpdateChannel persists edits to an existing channel.
func (s *Store) UpdateChannel(c *channel.Channel) error {
	tx := s.db.Tx()
	row := &database.Channel{ID: c.ID, ServerID: s.serverID, ParentID: c.ParentID, Name: c.Name,
		Position: c.Position, Description: c.Description, Temporary: c.Temporary,
		InheritACL: c.InheritACL, MaxUsers: c.MaxUsers}
	if err := tx.ChannelUpdate(row); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.reload()
}

// DeleteChannel removes a single channel row (the caller is responsible
// for recursing over descendants first, per spec.md §4.8).
func (s *Store) DeleteChannel(id int64) error {
	tx := s.db.Tx()
	if err := tx.ChannelDelete(s.serverID, id); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.reload()
}

func (s *Store) LinkChannels(a, b int64) error {
	tx := s.db.Tx()
	if err := tx.ChannelLinkAdd(s.serverID, a, b); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.reload()
}

func (s *Store) UnlinkChannels(a, b int64) error {
	tx := s.db.Tx()
	if err := tx.ChannelLinkRemove(s.serverID, a, b); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.reload()
}

// WriteACLs replaces the ACL entry list for channelID (spec.md §4.8 "persist
// only the target channel's non-inherited entries").
func (s *Store) WriteACLs(channelID int64, entries []acl.Entry) error {
	rows := make([]database.ACLEntry, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, database.ACLEntry{
			ServerID: s.serverID, ChannelID: channelID, UserID: e.UserID, Group: e.Group,
			ApplyHere: e.ApplyHere, ApplySubs: e.ApplySubs, Allow: uint32(e.Allow), Deny: uint32(e.Deny),
			Position: int32(i),
		})
	}
	tx := s.db.Tx()
	if err := tx.ACLWrite(s.serverID, channelID, rows); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.reloadChannelACLs(channelID)
}

// WriteGroups replaces the channel-group declarations for channelID,
// mirroring WriteACLs' delete-then-create replace semantics (spec.md §4.8
// update path also carries an ACL message's `groups` list alongside its
// `acls` list).
func (s *Store) WriteGroups(channelID int64, groups []acl.Group) error {
	rows := make([]database.ChannelGroup, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, database.ChannelGroup{
			ServerID: s.serverID, ChannelID: channelID, Name: g.Name,
			Inherit: g.Inherit, Inheritable: g.Inheritable,
		})
	}
	tx := s.db.Tx()
	if err := tx.GroupWrite(s.serverID, channelID, rows); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// GroupWrite reassigned ids; re-read to learn them before writing
	// membership rows keyed by the new group ids.
	tx = s.db.Tx()
	freshRows, err := tx.GroupsRead(s.serverID, channelID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	byName := make(map[string]int64, len(freshRows))
	for _, r := range freshRows {
		byName[r.Name] = r.ID
	}

	for _, g := range groups {
		groupID, ok := byName[g.Name]
		if !ok {
			continue
		}
		members := make([]database.GroupMember, 0, len(g.Add)+len(g.Remove))
		for _, id := range g.Add {
			members = append(members, database.GroupMember{GroupID: groupID, UserID: id, Remove: false})
		}
		for _, id := range g.Remove {
			members = append(members, database.GroupMember{GroupID: groupID, UserID: id, Remove: true})
		}
		tx := s.db.Tx()
		if err := tx.GroupMembersWrite(groupID, members); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return s.reloadChannelACLs(channelID)
}

// InheritedView walks the chain from root to channelID and returns every
// matching ACL entry flagged with Inherited, for the ACL query response
// (spec.md §4.8).
func (s *Store) InheritedView(channelID int64) []acl.Entry {
	var out []acl.Entry
	for _, c := range s.Ancestry(channelID) {
		for _, e := range s.ACLsFor(c.ID) {
			if !e.AppliesTo(c.ID, channelID) {
				continue
			}
			e.Inherited = c.ID != channelID
			e.SourceChannelID = c.ID
			out = append(out, e)
		}
	}
	return out
}
