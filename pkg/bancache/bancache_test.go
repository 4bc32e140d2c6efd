package bancache

import (
	"net"
	"testing"
	"time"

	"github.com/lotlab/grumble-cluster/pkg/database"
)

func TestCheckMatchesCIDR(t *testing.T) {
	c := New()
	c.Load([]database.Ban{
		{Base: net.ParseIP("192.168.1.0").To4(), Mask: 24, Start: time.Now(), Duration: 0, Reason: "spam"},
	})
	banned, reason := c.Check(net.ParseIP("192.168.1.55"), "")
	if !banned || reason != "spam" {
		t.Fatalf("got banned=%v reason=%q", banned, reason)
	}
	if banned, _ := c.Check(net.ParseIP("192.168.2.1"), ""); banned {
		t.Fatal("address outside CIDR should not be banned")
	}
}

func TestCheckMatchesCertHash(t *testing.T) {
	c := New()
	c.Load([]database.Ban{
		{Hash: []byte("deadbeef"), Start: time.Now(), Duration: 0, Reason: "cert ban"},
	})
	banned, reason := c.Check(nil, "deadbeef")
	if !banned || reason != "cert ban" {
		t.Fatalf("got banned=%v reason=%q", banned, reason)
	}
}

func TestExpiredBanIgnored(t *testing.T) {
	c := New()
	c.Load([]database.Ban{
		{Hash: []byte("stale"), Start: time.Now().Add(-2 * time.Hour), Duration: 60, Reason: "old"},
	})
	if banned, _ := c.Check(nil, "stale"); banned {
		t.Fatal("expired ban should not match")
	}
}

func TestForeverBanNeverExpires(t *testing.T) {
	c := New()
	c.Load([]database.Ban{
		{Hash: []byte("perm"), Start: time.Now().Add(-1000 * time.Hour), Duration: 0, Reason: "perm"},
	})
	if banned, _ := c.Check(nil, "perm"); !banned {
		t.Fatal("zero-duration ban should never expire")
	}
}
