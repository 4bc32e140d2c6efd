// Package permission implements the Hub's ACL chain evaluator (§4.7 "Hub
// permission checker"), grounded on the teacher's `acl.Context`/
// `acl.Permission`/`client.ACLContext()` call surface referenced from
// cmd/grumble/client.go, whose own acl package body never survived
// retrieval.
package permission

import (
	"sync"

	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
)

// Principal is the subset of a session's identity needed to evaluate ACL
// group membership.
type Principal struct {
	UserID     int64 // 0 if unregistered
	CertHash   string
	Tokens     []string
	InChannel  int64 // the channel the session is currently occupying
	SuperUser  bool
}

// Store is the read surface the evaluator needs over durable channel/ACL/
// group state; satisfied by pkg/database-backed adapters on the Hub and by
// a lighter in-memory fixture in tests.
type Store interface {
	Ancestry(channelID int64) []*channel.Channel
	ACLsFor(channelID int64) []acl.Entry
	GroupMembers(channelID, groupID int64, groupName string) (add, remove []int64)
}

// Checker evaluates and caches granted permission bitmasks.
type Checker struct {
	store Store

	mu    sync.RWMutex
	cache map[cacheKey]acl.Permission
}

type cacheKey struct {
	session   int64
	channelID int64
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store, cache: make(map[cacheKey]acl.Permission)}
}

// Invalidate drops every cached entry for channelID, called after any ACL
// or channel-tree mutation (§4.7 "Cache ... invalidated on ACL or
// channel-tree change").
func (c *Checker) Invalidate(channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if k.channelID == channelID {
			delete(c.cache, k)
		}
	}
}

// InvalidateAll clears the whole cache, used after a structural tree
// change whose blast radius is not a single channel (e.g. a subtree
// delete).
func (c *Checker) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[cacheKey]acl.Permission)
}

// Granted returns the permission bitmask principal holds at channelID,
// using the cache when present.
func (c *Checker) Granted(sessionID int64, principal Principal, channelID int64) acl.Permission {
	key := cacheKey{session: sessionID, channelID: channelID}
	c.mu.RLock()
	if v, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	v := c.compute(principal, channelID)

	c.mu.Lock()
	c.cache[key] = v
	c.mu.Unlock()
	return v
}

// Has reports whether principal holds perm at channelID.
func (c *Checker) Has(sessionID int64, principal Principal, channelID int64, perm acl.Permission) bool {
	return acl.Has(c.Granted(sessionID, principal, channelID), perm)
}

func (c *Checker) compute(principal Principal, target int64) acl.Permission {
	chain := c.store.Ancestry(target)
	if chain == nil {
		return acl.None
	}

	if principal.SuperUser {
		if target == channel.RootID {
			return acl.AllPermissions
		}
		return acl.AllSubPermissions
	}

	var grant acl.Permission
	var traverse, write bool

	for _, c0 := range chain {
		if !c0.InheritACL {
			grant = acl.DefaultPermissions()
			traverse, write = true, false
		}

		entries := c.entriesFor(c0.ID, target)
		for _, e := range entries {
			if !c.matches(e, principal, c0.ID) {
				continue
			}
			if e.Allow&acl.Traverse != 0 {
				traverse = true
			}
			if e.Deny&acl.Traverse != 0 {
				traverse = false
			}
			if e.Allow&acl.Write != 0 {
				write = true
			}
			if e.Deny&acl.Write != 0 {
				write = false
			}
			grant |= e.Allow
			grant &^= e.Deny
		}

		if !traverse && !write {
			return acl.None
		}
	}

	return grant
}

func (c *Checker) entriesFor(declaredAt, target int64) []acl.Entry {
	var out []acl.Entry
	for _, e := range c.store.ACLsFor(declaredAt) {
		if e.AppliesTo(declaredAt, target) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Checker) matches(e acl.Entry, p Principal, atChannel int64) bool {
	if e.UserID != nil {
		return p.UserID != 0 && *e.UserID == p.UserID
	}
	switch e.Group {
	case "all":
		return true
	case "auth":
		return p.UserID != 0
	case "in":
		return p.InChannel == atChannel
	case "out":
		return p.InChannel != atChannel
	}
	if len(e.Group) > 0 && e.Group[0] == '$' {
		return p.CertHash != "" && e.Group[1:] == p.CertHash
	}
	if len(e.Group) > 0 && e.Group[0] == '#' {
		token := e.Group[1:]
		for _, t := range p.Tokens {
			if t == token {
				return true
			}
		}
		return false
	}
	return c.matchesNamedGroup(e, p, atChannel)
}

func (c *Checker) matchesNamedGroup(e acl.Entry, p Principal, atChannel int64) bool {
	add, remove := c.store.GroupMembers(atChannel, 0, e.Group)
	for _, id := range remove {
		if id == p.UserID {
			return false
		}
	}
	for _, id := range add {
		if id == p.UserID {
			return true
		}
	}
	return false
}
