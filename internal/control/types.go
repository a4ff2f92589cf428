package control

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	HostID        string `json:"host_id"`
	ClusterName   string `json:"cluster_name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	KnownPeers    int    `json:"known_peers"`
	HasRemote     bool   `json:"has_remote"`
}

// PeerInfo is one entry of GET /v1/peers: a read-only projection of
// pkg/gossip.Snapshot plus whatever pkg/remote knows about the same id.
type PeerInfo struct {
	ID             string   `json:"id"`
	PrimaryAddr    string   `json:"primary_addr,omitempty"`
	Addresses      []string `json:"addresses,omitempty"`
	Hostname       string   `json:"hostname,omitempty"`
	NodeName       string   `json:"node_name,omitempty"`
	KnownPeerCount uint32   `json:"known_peer_count"`
	PeerHasRemote  bool     `json:"peer_has_remote"`
	RoundtripMs    *uint64  `json:"roundtrip_ms,omitempty"`
	PingsReceived  uint64   `json:"pings_received"`
	PongsReceived  uint64   `json:"pongs_received"`
	ProbesSent     uint64   `json:"probes_sent"`
	RemoteState    string   `json:"remote_state"` // "active", "throttled", or "unknown"
}

// RemoteResponse is returned by GET /v1/remote.
type RemoteResponse struct {
	Active    []string `json:"active"`
	Throttled []string `json:"throttled"`
}

// ErrorResponse is returned on any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DataResponse wraps every successful JSON response in a stable
// envelope, as the client expects.
type DataResponse struct {
	Data any `json:"data"`
}
