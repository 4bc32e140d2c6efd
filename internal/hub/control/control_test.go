package control

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/lotlab/grumble-cluster/internal/hub/broadcastcache"
	"github.com/lotlab/grumble-cluster/internal/hub/permission"
	"github.com/lotlab/grumble-cluster/internal/hub/registry"
	"github.com/lotlab/grumble-cluster/internal/hub/rpcserver"
	"github.com/lotlab/grumble-cluster/internal/hub/sessions"
	"github.com/lotlab/grumble-cluster/internal/hub/store"
	"github.com/lotlab/grumble-cluster/pkg/acl"
	"github.com/lotlab/grumble-cluster/pkg/bancache"
	"github.com/lotlab/grumble-cluster/pkg/blobstore"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
	"github.com/lotlab/grumble-cluster/pkg/database"
	"github.com/lotlab/grumble-cluster/pkg/mumbleproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

type testHarness struct {
	svc  *Service
	st   *store.Store
	sm   *sessions.Manager
	db   *database.DB
	reg  *clusterproto.Registry
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := database.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Load(db, 1)
	if err != nil {
		t.Fatal(err)
	}
	sm := sessions.NewManager()
	perms := permission.NewChecker(st)
	reg := registry.New(time.Minute)
	ccpReg := clusterproto.NewRegistry()
	rpc := rpcserver.New(ccpReg, nil)
	cache := broadcastcache.NewMemory(32, time.Minute)
	bans := bancache.New()
	backend, err := blobstore.NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	blobs := blobstore.New(backend)
	svc := New(st, sm, perms, reg, rpc, cache, bans, blobs, db, 1, nil)
	svc.Register(ccpReg)
	return &testHarness{svc: svc, st: st, sm: sm, db: db, reg: ccpReg}
}

// superuser allocates a session and grants it root-level superuser status
// via the "admin" channel group, matching the derivation spec.md §4.7
// describes (no separate persisted superuser flag exists).
func (h *testHarness) superuser(t *testing.T, edgeID string, userID int64) *session.State {
	t.Helper()
	st := h.sm.Allocate(edgeID)
	st.UserID = userID
	if err := h.st.WriteGroups(channel.RootID, []acl.Group{
		{ChannelID: channel.RootID, Name: "admin", Inherit: true, Inheritable: true, Add: []int64{userID}},
	}); err != nil {
		t.Fatal(err)
	}
	return st
}

func encodeParams(t *testing.T, sess session.ID, msg interface{ Marshal() ([]byte, error) }) []byte {
	t.Helper()
	payload, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(sess))
	copy(out[4:], payload)
	return out
}

func TestHandleChannelStateCreatesChannel(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	name := "General"
	msg := &mumbleproto.ChannelState{Name: &name}
	params := encodeParams(t, actor.Session, msg)

	payload, err := h.svc.handleChannelState(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	var resp mumbleproto.ChannelState
	if err := resp.Unmarshal(payload); err != nil {
		t.Fatal(err)
	}
	if resp.ChannelId == nil {
		t.Fatal("expected assigned channel id in response")
	}
	if _, ok := h.st.Channel(int64(*resp.ChannelId)); !ok {
		t.Fatal("expected created channel to be persisted")
	}
}

func TestHandleChannelStateRejectsSiblingCollision(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	name := "General"
	if _, err := h.st.CreateChannel(channel.RootID, name, 0, false); err != nil {
		t.Fatal(err)
	}

	msg := &mumbleproto.ChannelState{Name: &name}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleChannelState(context.Background(), params); err == nil {
		t.Fatal("expected sibling name collision error")
	}
}

func TestHandleChannelStateRejectsCycle(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	a, err := h.st.CreateChannel(channel.RootID, "A", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.st.CreateChannel(a.ID, "B", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	aID := uint32(a.ID)
	bID := uint32(b.ID)
	msg := &mumbleproto.ChannelState{ChannelId: &aID, Parent: &bID}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleChannelState(context.Background(), params); err == nil {
		t.Fatal("expected cycle rejection reparenting A under its descendant B")
	}
}

func TestHandleChannelRemoveRelocatesOccupants(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	parent, err := h.st.CreateChannel(channel.RootID, "Parent", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	child, err := h.st.CreateChannel(parent.ID, "Child", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	occupant := h.sm.Allocate("edge-2")
	occupant.ChannelID = child.ID

	channelID := uint32(parent.ID)
	msg := &mumbleproto.ChannelRemove{ChannelId: &channelID}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleChannelRemove(context.Background(), params); err != nil {
		t.Fatal(err)
	}

	if occupant.ChannelID != channel.RootID {
		t.Fatalf("expected occupant relocated to root, got %d", occupant.ChannelID)
	}
	if _, ok := h.st.Channel(parent.ID); ok {
		t.Fatal("expected parent channel to be deleted")
	}
	if _, ok := h.st.Channel(child.ID); ok {
		t.Fatal("expected child channel to be deleted")
	}
}

func TestHandleChannelRemoveRejectsRoot(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	rootID := uint32(channel.RootID)
	msg := &mumbleproto.ChannelRemove{ChannelId: &rootID}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleChannelRemove(context.Background(), params); err == nil {
		t.Fatal("expected the root channel to be undeletable")
	}
}

func TestHandleACLUpdateThenQueryRoundTrips(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	ch, err := h.st.CreateChannel(channel.RootID, "Lounge", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	channelID := uint32(ch.ID)
	applyHere, applySubs := true, true
	grant := uint32(acl.Speak | acl.TextMessage)
	deny := uint32(0)
	userID := uint32(7)
	update := &mumbleproto.ACL{
		ChannelId: &channelID,
		Acls: []*mumbleproto.ACLEntry{
			{ApplyHere: &applyHere, ApplySubs: &applySubs, UserId: &userID, Grant: &grant, Deny: &deny},
		},
	}
	params := encodeParams(t, actor.Session, update)
	if _, err := h.svc.handleACL(context.Background(), params); err != nil {
		t.Fatal(err)
	}

	entries := h.st.ACLsFor(ch.ID)
	if len(entries) != 1 {
		t.Fatalf("expected one persisted ACL entry, got %d", len(entries))
	}
	if entries[0].Allow != acl.Permission(grant) {
		t.Fatalf("expected persisted allow mask %v, got %v", acl.Permission(grant), entries[0].Allow)
	}

	query := true
	queryMsg := &mumbleproto.ACL{ChannelId: &channelID, Query: &query}
	queryParams := encodeParams(t, actor.Session, queryMsg)
	payload, err := h.svc.handleACL(context.Background(), queryParams)
	if err != nil {
		t.Fatal(err)
	}
	var resp mumbleproto.ACL
	if err := resp.Unmarshal(payload); err != nil {
		t.Fatal(err)
	}
	if len(resp.Acls) != 1 {
		t.Fatalf("expected one entry in inherited view response, got %d", len(resp.Acls))
	}
}

func TestHandleTextMessageFansOutToChannel(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)
	listener := h.sm.Allocate("edge-2")
	listener.ChannelID = actor.ChannelID

	body := "hello"
	channelID := uint32(actor.ChannelID)
	msg := &mumbleproto.TextMessage{ChannelId: []uint32{channelID}, Message: &body}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleTextMessage(context.Background(), params); err != nil {
		t.Fatal(err)
	}

	drained, err := h.svc.cache.Drain(context.Background(), "edge-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(drained) != 1 || drained[0].Method != "hub.textMessageBroadcast" {
		t.Fatalf("expected exactly one queued text message broadcast for edge-2, got %+v", drained)
	}
}

func TestHandleUserStateMovesSessionWithPermission(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)
	dest, err := h.st.CreateChannel(channel.RootID, "Dest", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	sess := uint32(actor.Session)
	destID := uint32(dest.ID)
	msg := &mumbleproto.UserState{Session: &sess, ChannelId: &destID}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleUserState(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	if actor.ChannelID != dest.ID {
		t.Fatalf("expected actor moved to %d, got %d", dest.ID, actor.ChannelID)
	}
}

func TestHandleUserStateBlobsCommentThenRequestBlobResolvesIt(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)

	sess := uint32(actor.Session)
	comment := "hello from the session comment"
	state := &mumbleproto.UserState{Session: &sess, Comment: &comment}
	params := encodeParams(t, actor.Session, state)
	if _, err := h.svc.handleUserState(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	if len(actor.CommentHash) == 0 {
		t.Fatal("expected CommentHash to be populated after UserState with a comment")
	}

	req := &mumbleproto.RequestBlob{SessionComment: []uint32{sess}}
	reqParams := encodeParams(t, actor.Session, req)
	result, err := h.svc.handleRequestBlob(context.Background(), reqParams)
	if err != nil {
		t.Fatal(err)
	}
	var reply blobReply
	if err := json.Unmarshal(result, &reply); err != nil {
		t.Fatal(err)
	}
	if len(reply.UserStates) != 1 {
		t.Fatalf("expected one resolved UserState, got %d", len(reply.UserStates))
	}
	var resolved mumbleproto.UserState
	if err := resolved.Unmarshal(reply.UserStates[0]); err != nil {
		t.Fatal(err)
	}
	if resolved.Comment == nil || *resolved.Comment != comment {
		t.Fatalf("expected resolved comment %q, got %v", comment, resolved.Comment)
	}
}

func TestHandleUserRemoveKicksSession(t *testing.T) {
	h := newHarness(t)
	actor := h.superuser(t, "edge-1", 1)
	target := h.sm.Allocate("edge-2")

	sess := uint32(target.Session)
	msg := &mumbleproto.UserRemove{Session: &sess}
	params := encodeParams(t, actor.Session, msg)
	if _, err := h.svc.handleUserRemove(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.sm.Get(target.Session); ok {
		t.Fatal("expected target session to be released after kick")
	}
}

func TestHandleUserRemoveRequiresPermission(t *testing.T) {
	h := newHarness(t)
	bystander := h.sm.Allocate("edge-1") // no group membership, no grants
	target := h.sm.Allocate("edge-2")

	sess := uint32(target.Session)
	msg := &mumbleproto.UserRemove{Session: &sess}
	params := encodeParams(t, bystander.Session, msg)
	if _, err := h.svc.handleUserRemove(context.Background(), params); err == nil {
		t.Fatal("expected permission denied for a session lacking Kick")
	}
	if _, ok := h.sm.Get(target.Session); !ok {
		t.Fatal("target session must survive a denied kick")
	}
}
