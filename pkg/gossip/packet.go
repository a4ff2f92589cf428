package gossip

import (
	"fmt"

	"github.com/dizhaung/cantal/pkg/hostid"
)

// PacketKind discriminates the two wire messages gossip exchanges.
// CBOR has no native sum type, so the wire Packet is one struct with a
// Kind tag (the teacher's own wire types follow the same
// tag-plus-optional-fields shape in internal/daemon/types.go).
type PacketKind uint8

const (
	KindPing PacketKind = iota
	KindPong
)

// Packet is the CBOR-encoded datagram exchanged between agents.
type Packet struct {
	Kind     PacketKind   `cbor:"1,keyasint"`
	Cluster  string       `cbor:"2,keyasint"`
	Me       MyInfo       `cbor:"3,keyasint"`
	Now      uint64       `cbor:"4,keyasint,omitempty"`      // Ping only
	PingTime uint64       `cbor:"5,keyasint,omitempty"`      // Pong only
	PeerTime uint64       `cbor:"6,keyasint,omitempty"`      // Pong only
	Friends  []FriendInfo `cbor:"7,keyasint"`
}

// MyInfo is what an agent says about itself in every packet it sends.
type MyInfo struct {
	ID        hostid.HostId `cbor:"1,keyasint"`
	Addresses []string      `cbor:"2,keyasint"`
	Host      string        `cbor:"3,keyasint"`
	Name      string        `cbor:"4,keyasint"`
	Report    Report        `cbor:"5,keyasint"`
}

// ReportEntry pairs a Report with the time it was taken, as relayed
// secondhand in a FriendInfo.
type ReportEntry struct {
	TimestampMs uint64 `cbor:"1,keyasint"`
	Report      Report `cbor:"2,keyasint"`
}

// RoundtripEntry is a relayed latency sample.
type RoundtripEntry struct {
	MeasuredAtMs uint64 `cbor:"1,keyasint"`
	RTTMs        uint64 `cbor:"2,keyasint"`
}

// FriendInfo is what an agent says about a third peer on behalf of
// that peer (secondhand, "untrusted" information per spec's trust
// model).
type FriendInfo struct {
	ID            hostid.HostId   `cbor:"1,keyasint"`
	MyPrimaryAddr *string         `cbor:"2,keyasint,omitempty"`
	Addresses     []string        `cbor:"3,keyasint"`
	Host          *string         `cbor:"4,keyasint,omitempty"`
	Name          *string         `cbor:"5,keyasint,omitempty"`
	Report        *ReportEntry    `cbor:"6,keyasint,omitempty"`
	Roundtrip     *RoundtripEntry `cbor:"7,keyasint,omitempty"`
}

func newPing(cluster string, me MyInfo, nowMs uint64, friends []FriendInfo) Packet {
	return Packet{Kind: KindPing, Cluster: cluster, Me: me, Now: nowMs, Friends: friends}
}

func newPong(cluster string, me MyInfo, pingTime, peerTime uint64, friends []FriendInfo) Packet {
	return Packet{Kind: KindPong, Cluster: cluster, Me: me, PingTime: pingTime, PeerTime: peerTime, Friends: friends}
}

func (p Packet) String() string {
	switch p.Kind {
	case KindPing:
		return fmt.Sprintf("Ping{cluster=%s me=%s friends=%d}", p.Cluster, p.Me.ID, len(p.Friends))
	case KindPong:
		return fmt.Sprintf("Pong{cluster=%s me=%s friends=%d}", p.Cluster, p.Me.ID, len(p.Friends))
	default:
		return "Packet{unknown}"
	}
}
