package gossip

import (
	"net"

	"github.com/dizhaung/cantal/pkg/hostid"
)

// SeedForTest inserts or updates a peer's primary address directly,
// bypassing the ping/pong trust machinery. It exists so packages that
// depend on a populated Info (pkg/remote's manager tests, primarily)
// can set up fixtures without standing up a full UDP exchange. addr may
// be nil to seed a peer that is known but not yet addressable. Proto
// itself never calls this; every real update goes through trust-gated
// Apply* methods on Peer.
func (in *Info) SeedForTest(id hostid.HostId, addr *net.UDPAddr) {
	in.withPeer(id, func(p *Peer) {
		p.PrimaryAddr = addr
	})
}
