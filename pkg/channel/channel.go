// Package channel holds the in-memory channel tree shape shared by the Hub
// (authoritative owner) and each Edge's read-only mirror (§3 "Channel",
// §4.6 "Edge-side mirror").
package channel

import "sort"

// Channel mirrors the persisted channel row plus its live link set. IDs are
// Hub-assigned and stable across Edge restarts.
type Channel struct {
	ID          int64
	ParentID    int64 // 0 for the root channel
	Name        string
	Position    int32
	Description string
	Temporary   bool
	InheritACL  bool
	MaxUsers    uint32

	Links    []int64 // linked channel IDs, symmetric
	Children []int64
}

const RootID int64 = 0

// Tree is a read-through index of Channel values, keyed by ID. It is used
// both by the Hub's authoritative store and by each Edge's mirror; neither
// mutates it concurrently with readers without external synchronization
// (the Hub behind store.Store's lock, the Edge behind mirror.Mirror's
// own lock).
type Tree struct {
	byID map[int64]*Channel
}

func NewTree() *Tree {
	return &Tree{byID: make(map[int64]*Channel)}
}

func (t *Tree) Put(c *Channel) {
	t.byID[c.ID] = c
}

func (t *Tree) Delete(id int64) {
	delete(t.byID, id)
}

func (t *Tree) Get(id int64) (*Channel, bool) {
	c, ok := t.byID[id]
	return c, ok
}

func (t *Tree) Len() int { return len(t.byID) }

// Ancestry returns the path from the root channel down to and including id,
// root first. It returns nil if id is unknown or a parent pointer is
// dangling (a corrupt tree, which callers should treat as a fatal mirror
// desync).
func (t *Tree) Ancestry(id int64) []*Channel {
	var chain []*Channel
	cur := id
	seen := make(map[int64]bool)
	for {
		c, ok := t.byID[cur]
		if !ok {
			return nil
		}
		if seen[cur] {
			return nil // cycle, corrupt tree
		}
		seen[cur] = true
		chain = append(chain, c)
		if cur == RootID || c.ParentID == cur {
			break
		}
		cur = c.ParentID
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// LinkedSet returns id plus every channel transitively reachable via Links,
// used for voice-target channel expansion (§4.5 "Link").
func (t *Tree) LinkedSet(id int64) []int64 {
	visited := map[int64]bool{id: true}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := t.byID[cur]
		if !ok {
			continue
		}
		for _, l := range c.Links {
			if !visited[l] {
				visited[l] = true
				queue = append(queue, l)
			}
		}
	}
	out := make([]int64, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Descendants returns every channel ID in the subtree rooted at id,
// including id itself, used for voice-target "children" expansion.
func (t *Tree) Descendants(id int64) []int64 {
	out := []int64{id}
	c, ok := t.byID[id]
	if !ok {
		return out
	}
	for _, childID := range c.Children {
		out = append(out, t.Descendants(childID)...)
	}
	return out
}
