package permission

import (
	"testing"

	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/channel"
)

type fixtureStore struct {
	tree    *channel.Tree
	acls    map[int64][]acl.Entry
	groups  map[string][]int64 // "channelID:groupName" -> member user ids
}

func newFixtureStore() *fixtureStore {
	tree := channel.NewTree()
	tree.Put(&channel.Channel{ID: 0, ParentID: 0, InheritACL: false})
	tree.Put(&channel.Channel{ID: 1, ParentID: 0, InheritACL: true})
	return &fixtureStore{tree: tree, acls: make(map[int64][]acl.Entry), groups: make(map[string][]int64)}
}

func (f *fixtureStore) Ancestry(id int64) []*channel.Channel { return f.tree.Ancestry(id) }

func (f *fixtureStore) ACLsFor(channelID int64) []acl.Entry { return f.acls[channelID] }

func (f *fixtureStore) GroupMembers(channelID, groupID int64, groupName string) ([]int64, []int64) {
	return f.groups[groupName], nil
}

func TestDefaultPermissionsWhenNoACL(t *testing.T) {
	store := newFixtureStore()
	checker := NewChecker(store)
	got := checker.Granted(1, Principal{}, 1)
	if got != acl.DefaultPermissions() {
		t.Fatalf("got %b want %b", got, acl.DefaultPermissions())
	}
}

func TestExplicitDenyOverridesAllow(t *testing.T) {
	store := newFixtureStore()
	uid := int64(42)
	store.acls[1] = []acl.Entry{
		{ChannelID: 1, Group: "all", ApplyHere: true, Allow: acl.Traverse | acl.Enter | acl.Speak},
		{ChannelID: 1, UserID: &uid, ApplyHere: true, Deny: acl.Speak},
	}
	checker := NewChecker(store)
	granted := checker.Granted(1, Principal{UserID: uid}, 1)
	if acl.Has(granted, acl.Speak) {
		t.Fatal("expected Speak to be denied")
	}
	if !acl.Has(granted, acl.Enter) {
		t.Fatal("expected Enter to still be granted")
	}
}

func TestNoTraverseOrWriteYieldsNone(t *testing.T) {
	store := newFixtureStore()
	store.acls[0] = []acl.Entry{
		{ChannelID: 0, Group: "all", ApplyHere: false, ApplySubs: true, Deny: acl.Traverse},
	}
	checker := NewChecker(store)
	got := checker.Granted(1, Principal{}, 1)
	if got != acl.None {
		t.Fatalf("got %b, want None", got)
	}
}

func TestSuperUserBypassesChain(t *testing.T) {
	store := newFixtureStore()
	checker := NewChecker(store)
	got := checker.Granted(1, Principal{SuperUser: true}, 1)
	if got != acl.AllSubPermissions {
		t.Fatalf("got %b want AllSubPermissions", got)
	}
	got = checker.Granted(1, Principal{SuperUser: true}, 0)
	if got != acl.AllPermissions {
		t.Fatalf("got %b want AllPermissions at root", got)
	}
}

func TestCacheInvalidation(t *testing.T) {
	store := newFixtureStore()
	checker := NewChecker(store)
	first := checker.Granted(1, Principal{}, 1)

	store.acls[1] = []acl.Entry{
		{ChannelID: 1, Group: "all", ApplyHere: true, Deny: acl.Speak},
	}
	cached := checker.Granted(1, Principal{}, 1)
	if cached != first {
		t.Fatal("expected cached value before invalidation")
	}

	checker.Invalidate(1)
	updated := checker.Granted(1, Principal{}, 1)
	if acl.Has(updated, acl.Speak) {
		t.Fatal("expected Speak denied after invalidation recompute")
	}
}

func TestNamedGroupMembership(t *testing.T) {
	store := newFixtureStore()
	store.groups["friends"] = []int64{7}
	store.acls[1] = []acl.Entry{
		{ChannelID: 1, Group: "friends", ApplyHere: true, Allow: acl.Move},
	}
	checker := NewChecker(store)
	granted := checker.Granted(1, Principal{UserID: 7}, 1)
	if !acl.Has(granted, acl.Move) {
		t.Fatal("expected friends group member to be granted Move")
	}
	granted2 := checker.Granted(2, Principal{UserID: 99}, 1)
	if acl.Has(granted2, acl.Move) {
		t.Fatal("non-member should not get Move")
	}
}
