package bootstrap

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/lotlab/grumble-cluster/internal/edge/dispatch"
	"github.com/lotlab/grumble-cluster/internal/edge/mirror"
	"github.com/lotlab/grumble-cluster/internal/edge/rpcclient"
	"github.com/lotlab/grumble-cluster/internal/edge/voice"
	"github.com/lotlab/grumble-cluster/pkg/channel"
	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
	"github.com/lotlab/grumble-cluster/pkg/session"
)

// startStubHub mirrors the fake-Hub helper already used by
// internal/edge/dispatch and internal/edge/conn's tests.
func startStubHub(t *testing.T, respond func(method string, params []byte) ([]byte, string, string)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		for {
			e, err := clusterproto.ReadEnvelope(conn)
			if err != nil {
				return
			}
			result, errCode, errMsg := respond(e.Method, e.Params)
			clusterproto.WriteEnvelope(conn, &clusterproto.Envelope{
				Kind: clusterproto.KindResponse, ID: e.ID, Result: result, ErrCode: errCode, ErrMsg: errMsg,
			})
		}
	}()
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

// TestRunRegistersSyncsAndHeartbeats exercises the full onConnect sequence
// against a stub Hub: edge.register, edge.fullSync hydrating the mirror,
// and at least one edge.heartbeat tick (spec.md §4.6).
func TestRunRegistersSyncsAndHeartbeats(t *testing.T) {
	registered := make(chan []byte, 1)
	heartbeats := make(chan []byte, 4)

	addr := startStubHub(t, func(method string, params []byte) ([]byte, string, string) {
		switch method {
		case "edge.register":
			registered <- params
			return nil, "", ""
		case "edge.fullSync":
			resp := fullSyncResponse{
				Sequence: 7,
				Channels: []fullSyncChannel{
					{Channel: &channel.Channel{ID: 0, Name: "Root"}},
				},
				Sessions: []*session.State{
					{Session: 5, Username: "carol", ChannelID: 0},
				},
			}
			result, _ := json.Marshal(resp)
			return result, "", ""
		case "edge.heartbeat":
			heartbeats <- params
			return nil, "", ""
		default:
			return nil, "", ""
		}
	})

	rpc := rpcclient.New(addr, nil, nil)
	m := mirror.New()
	router := voice.NewRouter("edge-a", m, nil, nil)
	disp := dispatch.New("edge-a", rpc, m, router, nil)
	r := New(Self{EdgeID: "edge-a", Name: "edge-a", Host: "127.0.0.1", Port: 64738}, 50*time.Millisecond, rpc, m, router, disp, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case params := <-registered:
		var req struct {
			EdgeID string `json:"edgeId"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			t.Fatal(err)
		}
		if req.EdgeID != "edge-a" {
			t.Fatalf("got edgeId %q", req.EdgeID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("edge.register was never called")
	}

	deadline := time.After(2 * time.Second)
	for {
		if ch, ok := m.Channel(0); ok && ch.Name == "Root" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fullSync never populated the channel mirror")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, ok := m.Session(5); !ok {
		t.Fatal("fullSync never populated the session mirror")
	}
	if m.LastSequence() != 7 {
		t.Fatalf("got last sequence %d, want 7", m.LastSequence())
	}

	select {
	case <-heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatal("edge.heartbeat was never called")
	}
}
