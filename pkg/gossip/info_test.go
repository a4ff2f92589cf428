package gossip

import (
	"net"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/dizhaung/cantal/pkg/hostid"
)

func mustID(t *testing.T, b byte) hostid.HostId {
	t.Helper()
	var id hostid.HostId
	id[0] = b
	return id
}

// TestTrustOverride is property 8: a trusted update always wins over
// an untrusted one, and a later untrusted update never reverses it.
func TestTrustOverride(t *testing.T) {
	p := newPeer(mustID(t, 1))

	p.ApplyHostname("friend-said-this", false)
	if p.Hostname != "friend-said-this" {
		t.Fatalf("untrusted update should apply when nothing trusted yet, got %q", p.Hostname)
	}

	p.ApplyHostname("host-said-this", true)
	if p.Hostname != "host-said-this" {
		t.Fatalf("trusted update should always apply, got %q", p.Hostname)
	}

	p.ApplyHostname("friend-said-this-again", false)
	if p.Hostname != "host-said-this" {
		t.Fatalf("untrusted update must not override a trusted one, got %q", p.Hostname)
	}

	p.ApplyHostname("host-said-something-else", true)
	if p.Hostname != "host-said-something-else" {
		t.Fatalf("a second trusted update should still apply, got %q", p.Hostname)
	}
}

func TestApplyAddressesDedup(t *testing.T) {
	p := newPeer(mustID(t, 2))
	a1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 7000}
	a2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 7000}

	p.ApplyAddresses([]*net.UDPAddr{a1}, false)
	p.ApplyAddresses([]*net.UDPAddr{a1, a2}, false)
	if len(p.Addresses) != 2 {
		t.Fatalf("expected 2 deduplicated addresses, got %d: %v", len(p.Addresses), p.Addresses)
	}
}

func TestGetFriendsExcludesAddressee(t *testing.T) {
	info := NewInfo()
	target := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9000}
	other := &net.UDPAddr{IP: net.ParseIP("10.0.0.6"), Port: 9000}

	info.withPeer(mustID(t, 5), func(p *Peer) { p.PrimaryAddr = target })
	info.withPeer(mustID(t, 6), func(p *Peer) { p.PrimaryAddr = other })

	friends := info.GetFriends(target, 0)
	for _, f := range friends {
		if f.ID == mustID(t, 5) {
			t.Fatalf("GetFriends(target) should exclude the peer being addressed")
		}
	}
	if len(friends) != 1 {
		t.Fatalf("expected 1 friend, got %d", len(friends))
	}
}

// TestGetFriendsCapsByteSize covers spec's packet-size discipline: the
// friends list must never push the encoded packet past the caller's
// budget, and truncation favors whoever was heard from most recently.
func TestGetFriendsCapsByteSize(t *testing.T) {
	info := NewInfo()
	for i := byte(1); i <= 20; i++ {
		id := mustID(t, i)
		info.withPeer(id, func(p *Peer) {
			p.Addresses = []*net.UDPAddr{{IP: net.ParseIP("10.0.0.1"), Port: 9000 + int(i)}}
			p.Hostname = "host-with-a-somewhat-long-name"
			p.NodeName = "node-name"
			p.Report = &ReportSample{TimestampMs: uint64(i) * 1000, Report: Report{Peers: 5}}
		})
	}

	const budget = 300
	friends := info.GetFriends(nil, budget)
	if len(friends) == 0 {
		t.Fatalf("expected at least one friend under budget %d", budget)
	}
	if len(friends) >= 20 {
		t.Fatalf("expected truncation below 20 peers, got %d", len(friends))
	}

	var size int
	for _, f := range friends {
		enc, err := cbor.Marshal(f)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		size += len(enc)
	}
	if size > budget {
		t.Fatalf("encoded friends size %d exceeds budget %d", size, budget)
	}

	// The highest-numbered (most recently heard from) peers should have
	// survived the cut.
	kept := make(map[hostid.HostId]bool, len(friends))
	for _, f := range friends {
		kept[f.ID] = true
	}
	if !kept[mustID(t, 20)] {
		t.Fatalf("most recently heard-from peer should survive truncation")
	}
}

func TestGetFriendsUnboundedWhenBudgetZero(t *testing.T) {
	info := NewInfo()
	for i := byte(1); i <= 5; i++ {
		id := mustID(t, i)
		info.withPeer(id, func(p *Peer) {})
	}
	friends := info.GetFriends(nil, 0)
	if len(friends) != 5 {
		t.Fatalf("expected all 5 friends with no budget, got %d", len(friends))
	}
}
