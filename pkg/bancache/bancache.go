// Package bancache is the Hub's in-memory, indexed view over
// database.Ban, so a connecting client's address and certificate hash can
// be checked against the ban list without a query per handshake (§4.8
// "Ban enforcement").
package bancache

import (
	"net"
	"sync"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/database"
)

// Entry is a denormalized, pre-parsed ban row.
type Entry struct {
	Base     net.IP
	Mask     int
	Hash     string
	Reason   string
	Start    time.Time
	Duration time.Duration
}

func (e Entry) expired(now time.Time) bool {
	if e.Duration <= 0 {
		return false // zero duration means "forever"
	}
	return now.After(e.Start.Add(e.Duration))
}

func (e Entry) matchesAddr(addr net.IP) bool {
	if e.Base == nil || e.Mask == 0 {
		return false
	}
	network := &net.IPNet{IP: e.Base, Mask: net.CIDRMask(e.Mask, len(e.Base)*8)}
	return network.Contains(addr)
}

// Cache is a concurrency-safe, reloadable ban index.
type Cache struct {
	mu      sync.RWMutex
	entries []Entry
}

func New() *Cache {
	return &Cache{}
}

// Load replaces the cache contents from a freshly read set of database
// rows, parsing addresses and hex hashes once up front.
func (c *Cache) Load(rows []database.Ban) {
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{
			Base:     net.IP(r.Base),
			Mask:     r.Mask,
			Hash:     string(r.Hash),
			Reason:   r.Reason,
			Start:    r.Start,
			Duration: time.Duration(r.Duration) * time.Second,
		}
		entries = append(entries, e)
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Check reports whether addr or certHash is covered by an active ban, and
// if so returns the matching reason.
func (c *Cache) Check(addr net.IP, certHash string) (banned bool, reason string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	for _, e := range c.entries {
		if e.expired(now) {
			continue
		}
		if certHash != "" && e.Hash == certHash {
			return true, e.Reason
		}
		if addr != nil && e.matchesAddr(addr) {
			return true, e.Reason
		}
	}
	return false, ""
}

// Len reports how many ban entries are currently loaded, for metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
