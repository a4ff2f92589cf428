package gossip

import (
	"net"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/dizhaung/cantal/pkg/hostid"
)

// Report is the last observed summary a peer gossips about itself:
// how many peers it knows about and whether it has an active remote
// (streaming) connection.
type Report struct {
	Peers     uint32
	HasRemote bool
}

// Roundtrip is a measured ping/pong latency sample.
type Roundtrip struct {
	MeasuredAtMs uint64
	RTTMs        uint64
}

// LastProbe records when and where this process last sent a direct
// ping to a peer.
type LastProbe struct {
	TimestampMs uint64
	Addr        *net.UDPAddr
}

// ReportSample pairs a Report with the time it was observed.
type ReportSample struct {
	TimestampMs uint64
	Report      Report
}

// Peer holds everything known about one remote host. Fields learned
// directly from that host's own ping/pong ("trusted") always win over
// the same field learned secondhand through a third party's friend
// list ("untrusted"): an untrusted update is silently dropped once a
// trusted one has landed, and never the reverse.
type Peer struct {
	ID hostid.HostId

	PrimaryAddr *net.UDPAddr
	Addresses   []*net.UDPAddr
	Hostname    string
	NodeName    string
	Report      *ReportSample
	Roundtrip   *Roundtrip

	PingsReceived uint64
	PongsReceived uint64
	ProbesSent    uint64
	LastProbe     *LastProbe

	addressesTrusted bool
	reportTrusted    bool
	hostnameTrusted  bool
	nodeNameTrusted  bool
	roundtripTrusted bool
}

func newPeer(id hostid.HostId) *Peer {
	return &Peer{ID: id}
}

// ApplyAddresses merges a newly observed address set into the peer's
// known addresses, deduplicating by string form.
func (p *Peer) ApplyAddresses(addrs []*net.UDPAddr, trusted bool) {
	if !trusted && p.addressesTrusted {
		return
	}
	p.addressesTrusted = trusted
	seen := make(map[string]bool, len(p.Addresses))
	var merged []*net.UDPAddr
	for _, a := range p.Addresses {
		if a == nil {
			continue
		}
		k := a.String()
		if !seen[k] {
			seen[k] = true
			merged = append(merged, a)
		}
	}
	for _, a := range addrs {
		if a == nil {
			continue
		}
		k := a.String()
		if !seen[k] {
			seen[k] = true
			merged = append(merged, a)
		}
	}
	p.Addresses = merged
}

// ApplyReport overwrites the peer's last observed report, subject to
// the trust rule above. A nil sample is a no-op (nothing was reported).
func (p *Peer) ApplyReport(sample *ReportSample, trusted bool) {
	if sample == nil {
		return
	}
	if !trusted && p.reportTrusted {
		return
	}
	p.reportTrusted = trusted
	p.Report = sample
}

// ApplyHostname sets the peer's advertised hostname.
func (p *Peer) ApplyHostname(name string, trusted bool) {
	if name == "" {
		return
	}
	if !trusted && p.hostnameTrusted {
		return
	}
	p.hostnameTrusted = trusted
	p.Hostname = name
}

// ApplyNodeName sets the peer's advertised short node name.
func (p *Peer) ApplyNodeName(name string, trusted bool) {
	if name == "" {
		return
	}
	if !trusted && p.nodeNameTrusted {
		return
	}
	p.nodeNameTrusted = trusted
	p.NodeName = name
}

// ApplyRoundtrip records a new latency sample. addr is accepted for
// symmetry with the original source but is not itself stored; it is
// the address the measurement was taken against.
func (p *Peer) ApplyRoundtrip(rt Roundtrip, addr *net.UDPAddr, trusted bool) {
	if !trusted && p.roundtripTrusted {
		return
	}
	p.roundtripTrusted = trusted
	rtCopy := rt
	p.Roundtrip = &rtCopy
}

// Snapshot is an immutable, detached copy of a Peer for consumers
// outside the gossip task (internal/control, pkg/remote).
type Snapshot struct {
	ID            hostid.HostId
	PrimaryAddr   *net.UDPAddr
	Addresses     []*net.UDPAddr
	Hostname      string
	NodeName      string
	Report        *ReportSample
	Roundtrip     *Roundtrip
	PingsReceived uint64
	PongsReceived uint64
	ProbesSent    uint64
	LastProbe     *LastProbe
}

func (p *Peer) snapshot() Snapshot {
	return Snapshot{
		ID:            p.ID,
		PrimaryAddr:   p.PrimaryAddr,
		Addresses:     append([]*net.UDPAddr(nil), p.Addresses...),
		Hostname:      p.Hostname,
		NodeName:      p.NodeName,
		Report:        p.Report,
		Roundtrip:     p.Roundtrip,
		PingsReceived: p.PingsReceived,
		PongsReceived: p.PongsReceived,
		ProbesSent:    p.ProbesSent,
		LastProbe:     p.LastProbe,
	}
}

func (p *Peer) toFriendInfo() FriendInfo {
	fi := FriendInfo{
		ID:        p.ID,
		Addresses: addrsToStrings(p.Addresses),
	}
	if p.PrimaryAddr != nil {
		s := p.PrimaryAddr.String()
		fi.MyPrimaryAddr = &s
	}
	if p.Hostname != "" {
		fi.Host = &p.Hostname
	}
	if p.NodeName != "" {
		fi.Name = &p.NodeName
	}
	if p.Report != nil {
		fi.Report = &ReportEntry{TimestampMs: p.Report.TimestampMs, Report: p.Report.Report}
	}
	if p.Roundtrip != nil {
		fi.Roundtrip = &RoundtripEntry{MeasuredAtMs: p.Roundtrip.MeasuredAtMs, RTTMs: p.Roundtrip.RTTMs}
	}
	return fi
}

func addrsToStrings(addrs []*net.UDPAddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a != nil {
			out = append(out, a.String())
		}
	}
	return out
}

// Info is the shared peer table. The gossip task (Proto) is the sole
// writer of peer entries; pkg/remote's Manager writes only the
// has-remote flag (SetHasRemote), and readers only ever see a Snapshot.
type Info struct {
	mu        sync.RWMutex
	peers     map[hostid.HostId]*Peer
	hasRemote bool
}

// NewInfo returns an empty peer table.
func NewInfo() *Info {
	return &Info{peers: make(map[hostid.HostId]*Peer)}
}

// withPeer runs fn against the Peer for id under the write lock,
// creating the entry if this is the first time id has been seen.
func (in *Info) withPeer(id hostid.HostId, fn func(*Peer)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	fn(in.getOrCreate(id))
}

// getOrCreate returns the Peer for id, creating an empty entry if
// this is the first time it has been seen. Callers must hold mu.
func (in *Info) getOrCreate(id hostid.HostId) *Peer {
	if p, ok := in.peers[id]; ok {
		return p
	}
	p := newPeer(id)
	in.peers[id] = p
	return p
}

// SetHasRemote records whether this process currently has an active
// remote (streaming metrics) connection, for inclusion in this
// process's own advertised Report.
func (in *Info) SetHasRemote(v bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.hasRemote = v
}

// SelfReport returns the report this process should advertise about
// itself: how many peers it knows, and whether it has a remote link.
func (in *Info) SelfReport() Report {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Report{Peers: uint32(len(in.peers)), HasRemote: in.hasRemote}
}

// PeerIDs returns every known peer id. Used for periodic-ping target
// selection.
func (in *Info) PeerIDs() []hostid.HostId {
	in.mu.RLock()
	defer in.mu.RUnlock()
	ids := make([]hostid.HostId, 0, len(in.peers))
	for id := range in.peers {
		ids = append(ids, id)
	}
	return ids
}

// Peek returns a detached snapshot of one peer, or false if unknown.
func (in *Info) Peek(id hostid.HostId) (Snapshot, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	p, ok := in.peers[id]
	if !ok {
		return Snapshot{}, false
	}
	return p.snapshot(), true
}

// Snapshot returns a detached copy of the whole peer table, for
// internal/control and pkg/remote.
func (in *Info) Snapshot() ([]Snapshot, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Snapshot, 0, len(in.peers))
	for _, p := range in.peers {
		out = append(out, p.snapshot())
	}
	return out, in.hasRemote
}

// GetFriends builds the friend list to advertise to the peer at
// exclude's address: every known peer except the one being addressed
// (a node doesn't need to be told about itself), most-recently-heard-
// from first, truncated so the encoded list never exceeds maxBytes (the
// caller's packet-size budget minus room for the rest of the envelope).
// A maxBytes of 0 or less disables the cap.
func (in *Info) GetFriends(exclude *net.UDPAddr, maxBytes int) []FriendInfo {
	in.mu.RLock()
	defer in.mu.RUnlock()

	candidates := make([]*Peer, 0, len(in.peers))
	for _, p := range in.peers {
		if exclude != nil && p.PrimaryAddr != nil && sameAddr(p.PrimaryAddr, exclude) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return lastHeardMs(candidates[i]) > lastHeardMs(candidates[j])
	})

	out := make([]FriendInfo, 0, len(candidates))
	size := 0
	for _, p := range candidates {
		fi := p.toFriendInfo()
		if maxBytes > 0 {
			enc, err := cbor.Marshal(fi)
			if err != nil {
				continue
			}
			if size+len(enc) > maxBytes {
				break
			}
			size += len(enc)
		}
		out = append(out, fi)
	}
	return out
}

// lastHeardMs is the recency key GetFriends sorts by: the latest of a
// direct report or an outbound probe, so actively-talking peers are
// the ones truncation keeps.
func lastHeardMs(p *Peer) uint64 {
	var best uint64
	if p.Report != nil && p.Report.TimestampMs > best {
		best = p.Report.TimestampMs
	}
	if p.LastProbe != nil && p.LastProbe.TimestampMs > best {
		best = p.LastProbe.TimestampMs
	}
	return best
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}
