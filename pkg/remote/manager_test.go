package remote

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dizhaung/cantal/pkg/gossip"
	"github.com/dizhaung/cantal/pkg/hostid"
)

func testID(b byte) hostid.HostId {
	var id hostid.HostId
	id[0] = b
	return id
}

// listenAndHold starts a TCP listener that accepts and holds open
// every connection until ctx is cancelled, simulating a peer that
// accepts a dial and stays up.
func listenAndHold(t *testing.T, ctx context.Context) *net.UDPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
		}
	}()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return &net.UDPAddr{IP: tcpAddr.IP, Port: tcpAddr.Port}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

// TestCheckConnectionsThrottlesAddresslessPeerAndConnectsAddressedPeer
// covers S5: a peer with no primary address is throttled and spawns no
// Connection, while a peer that already has an address gets one
// immediately on Start.
func TestCheckConnectionsThrottlesAddresslessPeerAndConnectsAddressedPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := listenAndHold(t, ctx)

	info := gossip.NewInfo()
	addressless := testID(1)
	addressed := testID(2)
	info.SeedForTest(addressless, nil)
	info.SeedForTest(addressed, addr)

	mgr := NewManager(info, NewMetrics())
	go mgr.Run(ctx)
	mgr.Commands() <- Start

	waitFor(t, time.Second, func() bool {
		for _, id := range mgr.ActivePeers() {
			if id == addressed {
				return true
			}
		}
		return false
	})
	for _, id := range mgr.ThrottledPeers() {
		if id == addressed {
			t.Fatalf("addressed peer should not remain throttled once connected")
		}
	}

	found := false
	for _, id := range mgr.ThrottledPeers() {
		if id == addressless {
			found = true
		}
	}
	if !found {
		t.Fatalf("addressless peer should be throttled, got active=%v throttled=%v", mgr.ActivePeers(), mgr.ThrottledPeers())
	}
}

// TestPeersUpdatedPromotesThrottledPeer finishes S5: once the
// addressless peer gains an address and PeersUpdated fires, it is
// promoted out of throttled and into active.
func TestPeersUpdatedPromotesThrottledPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := testID(4)
	info := gossip.NewInfo()
	info.SeedForTest(id, nil)

	mgr := NewManager(info, NewMetrics())
	go mgr.Run(ctx)
	mgr.Commands() <- Start

	waitFor(t, time.Second, func() bool {
		for _, t := range mgr.ThrottledPeers() {
			if t == id {
				return true
			}
		}
		return false
	})

	addr := listenAndHold(t, ctx)
	info.SeedForTest(id, addr)
	mgr.Commands() <- PeersUpdated

	waitFor(t, time.Second, func() bool {
		for _, a := range mgr.ActivePeers() {
			if a == id {
				return true
			}
		}
		return false
	})
	for _, th := range mgr.ThrottledPeers() {
		if th == id {
			t.Fatalf("peer should have left the throttled set once connected")
		}
	}
}

// TestSingleConnectionPerPeer is property 9: repeated PeersUpdated
// signals never create a second Connection for an already-active peer.
func TestSingleConnectionPerPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := listenAndHold(t, ctx)

	info := gossip.NewInfo()
	id := testID(3)
	info.SeedForTest(id, addr)

	mgr := NewManager(info, NewMetrics())
	go mgr.Run(ctx)
	mgr.Commands() <- Start
	waitFor(t, time.Second, func() bool { return len(mgr.ActivePeers()) == 1 })

	for i := 0; i < 5; i++ {
		mgr.Commands() <- PeersUpdated
	}
	time.Sleep(50 * time.Millisecond)

	if got := len(mgr.ActivePeers()); got != 1 {
		t.Fatalf("expected exactly 1 active connection for the peer, got %d", got)
	}
}

// TestHasRemoteReflectsActiveConnections covers spec §3/§6: the gossip
// self-report's has_remote bit must track whether this agent currently
// holds any active connection, flipping back off once that connection
// dies, not just staying permanently false.
func TestHasRemoteReflectsActiveConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	info := gossip.NewInfo()
	if info.SelfReport().HasRemote {
		t.Fatalf("has_remote should start false with no peers")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	addr := &net.UDPAddr{IP: tcpAddr.IP, Port: tcpAddr.Port}

	id := testID(7)
	info.SeedForTest(id, addr)

	mgr := NewManager(info, NewMetrics())
	go mgr.Run(ctx)
	mgr.Commands() <- Start

	waitFor(t, time.Second, func() bool { return info.SelfReport().HasRemote })

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(time.Second):
		t.Fatalf("connection never accepted")
	}
	conn.Close()

	waitFor(t, time.Second, func() bool { return !info.SelfReport().HasRemote })
}
