package main

import (
	"time"

	"github.com/dizhaung/cantal/internal/control"
	"github.com/dizhaung/cantal/pkg/gossip"
	"github.com/dizhaung/cantal/pkg/hostid"
	"github.com/dizhaung/cantal/pkg/remote"
)

// runtimeAdapter implements control.RuntimeInfo over the live gossip
// Info table and remote Manager, the same decoupling seam the
// teacher's serveRuntime draws against daemon.RuntimeInfo.
type runtimeAdapter struct {
	machineID   hostid.HostId
	clusterName string
	version     string
	startTime   time.Time
	info        *gossip.Info
	manager     *remote.Manager
}

func (r *runtimeAdapter) HostID() string       { return r.machineID.String() }
func (r *runtimeAdapter) ClusterName() string  { return r.clusterName }
func (r *runtimeAdapter) Version() string      { return r.version }
func (r *runtimeAdapter) StartTime() time.Time { return r.startTime }

func (r *runtimeAdapter) Peers() ([]control.PeerInfo, bool) {
	snaps, hasRemote := r.info.Snapshot()

	active := map[hostid.HostId]bool{}
	for _, id := range r.manager.ActivePeers() {
		active[id] = true
	}
	throttled := map[hostid.HostId]bool{}
	for _, id := range r.manager.ThrottledPeers() {
		throttled[id] = true
	}

	out := make([]control.PeerInfo, 0, len(snaps))
	for _, s := range snaps {
		pi := control.PeerInfo{
			ID:            s.ID.String(),
			Hostname:      s.Hostname,
			NodeName:      s.NodeName,
			PingsReceived: s.PingsReceived,
			PongsReceived: s.PongsReceived,
			ProbesSent:    s.ProbesSent,
			RemoteState:   "unknown",
		}
		if s.PrimaryAddr != nil {
			pi.PrimaryAddr = s.PrimaryAddr.String()
		}
		for _, a := range s.Addresses {
			if a != nil {
				pi.Addresses = append(pi.Addresses, a.String())
			}
		}
		if s.Report != nil {
			pi.KnownPeerCount = s.Report.Report.Peers
			pi.PeerHasRemote = s.Report.Report.HasRemote
		}
		if s.Roundtrip != nil {
			rtt := s.Roundtrip.RTTMs
			pi.RoundtripMs = &rtt
		}
		switch {
		case active[s.ID]:
			pi.RemoteState = "active"
		case throttled[s.ID]:
			pi.RemoteState = "throttled"
		}
		out = append(out, pi)
	}
	return out, hasRemote
}

func (r *runtimeAdapter) ActivePeers() []string {
	return idStrings(r.manager.ActivePeers())
}

func (r *runtimeAdapter) ThrottledPeers() []string {
	return idStrings(r.manager.ThrottledPeers())
}

func idStrings(ids []hostid.HostId) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
