package rpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/clusterproto"
)

func startEchoServer(t *testing.T) string {
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
			clusterproto.WriteEnvelope(conn, &clusterproto.Envelope{
				Kind: clusterproto.KindResponse, ID: e.ID, Result: []byte("pong:" + e.Method),
			})
		}
	}()
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	c := New(addr, nil, nil)
	ctx := context.Background()
	if err := c.connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	result, err := c.Call(ctx, "edge.register", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(result) != "pong:edge.register" {
		t.Fatalf("got %q", result)
	}
}

func TestCallFailsWithoutConnection(t *testing.T) {
	c := New("127.0.0.1:1", nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "edge.register", nil)
	if err == nil {
		t.Fatal("expected error calling on a client with no connection")
	}
}

func TestNotificationDispatch(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		clusterproto.WriteEnvelope(conn, &clusterproto.Envelope{
			Kind: clusterproto.KindNotification, Method: "hub.userJoined", Params: []byte("alice"),
		})
	}()

	c := New(l.Addr().String(), nil, nil)
	got := make(chan string, 1)
	c.OnNotification("hub.userJoined", func(params []byte) { got <- string(params) })

	if err := c.connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	select {
	case v := <-got:
		if v != "alice" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}
