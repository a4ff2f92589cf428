package gossip

import (
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func newTestProto(t *testing.T, cfg Config) *Proto {
	t.Helper()
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:0"
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 1400
	}
	if cfg.AddHostFirstSleep == 0 {
		cfg.AddHostFirstSleep = time.Second
	}
	p, err := NewProto(cfg, NewInfo(), NewMetrics())
	if err != nil {
		t.Fatalf("NewProto: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func someAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("10.1.2.3"), Port: 4000}
}

// TestClusterIsolation is property 6: a Ping with a mismatched cluster
// never mutates Info.
func TestClusterIsolation(t *testing.T) {
	p := newTestProto(t, Config{ClusterName: "prod", MachineID: mustID(t, 1)})

	pkt := newPing("staging", MyInfo{ID: mustID(t, 2)}, nowMs(), nil)
	p.consumeGossip(pkt, someAddr())

	if _, ok := p.info.Peek(mustID(t, 2)); ok {
		t.Fatalf("mismatched-cluster Ping should not have created a peer entry")
	}
}

// TestSelfEcho is property 7: a packet whose me.id == self.id never
// mutates Info.
func TestSelfEcho(t *testing.T) {
	self := mustID(t, 1)
	p := newTestProto(t, Config{ClusterName: "prod", MachineID: self})

	pkt := newPing("prod", MyInfo{ID: self}, nowMs(), nil)
	p.consumeGossip(pkt, someAddr())

	if _, ok := p.info.Peek(self); ok {
		t.Fatalf("self-echoed Ping should not have created a peer entry")
	}
}

func TestConsumePingUpdatesPeer(t *testing.T) {
	self := mustID(t, 1)
	peerID := mustID(t, 2)
	p := newTestProto(t, Config{ClusterName: "prod", MachineID: self, Hostname: "me", Name: "agent-1"})

	src := someAddr()
	pkt := newPing("prod", MyInfo{ID: peerID, Host: "their-host", Name: "agent-2"}, nowMs(), nil)
	p.consumeGossip(pkt, src)

	snap, ok := p.info.Peek(peerID)
	if !ok {
		t.Fatalf("expected peer %s to be created", peerID)
	}
	if snap.Hostname != "their-host" || snap.NodeName != "agent-2" {
		t.Fatalf("peer fields not applied: %+v", snap)
	}
	if snap.PingsReceived != 1 {
		t.Fatalf("expected PingsReceived=1, got %d", snap.PingsReceived)
	}
	if snap.PrimaryAddr == nil || snap.PrimaryAddr.String() != src.String() {
		t.Fatalf("expected primary addr %s, got %v", src, snap.PrimaryAddr)
	}
}

func TestPacketCBORRoundTrip(t *testing.T) {
	id := mustID(t, 7)
	original := newPing("prod", MyInfo{
		ID:        id,
		Addresses: []string{"10.0.0.1:7000"},
		Host:      "h",
		Name:      "n",
		Report:    Report{Peers: 3, HasRemote: true},
	}, 12345, []FriendInfo{{ID: mustID(t, 8), Addresses: []string{"10.0.0.2:7000"}}})

	data, err := cbor.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Packet
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Kind != KindPing || decoded.Me.ID != id || decoded.Now != 12345 {
		t.Fatalf("round-trip mismatch: %+v", decoded)
	}
	if len(decoded.Friends) != 1 || decoded.Friends[0].ID != mustID(t, 8) {
		t.Fatalf("friends round-trip mismatch: %+v", decoded.Friends)
	}
}

func TestAddHostTwiceQueuesOneFutureHost(t *testing.T) {
	p := newTestProto(t, Config{ClusterName: "prod", MachineID: mustID(t, 1)})
	addr := someAddr()

	p.handleCommand(AddHost(addr))
	p.handleCommand(AddHost(addr))

	if p.queue.Len() != 1 {
		t.Fatalf("expected exactly one FutureHost, got %d", p.queue.Len())
	}
	if head := p.queue.peek(); head.attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", head.attempts)
	}
}
