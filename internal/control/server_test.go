package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeRuntime struct {
	hostID      string
	clusterName string
	startTime   time.Time
	peers       []PeerInfo
	hasRemote   bool
	active      []string
	throttled   []string
}

func (f *fakeRuntime) HostID() string            { return f.hostID }
func (f *fakeRuntime) ClusterName() string       { return f.clusterName }
func (f *fakeRuntime) Version() string           { return "test" }
func (f *fakeRuntime) StartTime() time.Time      { return f.startTime }
func (f *fakeRuntime) Peers() ([]PeerInfo, bool) { return f.peers, f.hasRemote }
func (f *fakeRuntime) ActivePeers() []string     { return f.active }
func (f *fakeRuntime) ThrottledPeers() []string  { return f.throttled }

func newTestServer(t *testing.T, rt RuntimeInfo) (*Server, *Client) {
	t.Helper()
	dir := t.TempDir()
	srv := NewServer(rt, filepath.Join(dir, "control.sock"), filepath.Join(dir, "cookie"), "test", NewMetrics())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	client, err := NewClient(srv.SocketPath(), srv.cookiePath)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return srv, client
}

func TestStatusRoundTrip(t *testing.T) {
	rt := &fakeRuntime{
		hostID:      "abc123",
		clusterName: "prod",
		startTime:   time.Now().Add(-5 * time.Minute),
		peers:       []PeerInfo{{ID: "p1"}, {ID: "p2"}},
		hasRemote:   true,
	}
	_, client := newTestServer(t, rt)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.HostID != "abc123" || status.ClusterName != "prod" || status.KnownPeers != 2 || !status.HasRemote {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestPeersAndRemoteRoundTrip(t *testing.T) {
	rt := &fakeRuntime{
		peers:     []PeerInfo{{ID: "p1", RemoteState: "active"}},
		active:    []string{"p1"},
		throttled: []string{"p2"},
	}
	_, client := newTestServer(t, rt)

	peers, err := client.Peers()
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != "p1" {
		t.Fatalf("unexpected peers: %+v", peers)
	}

	remote, err := client.Remote()
	if err != nil {
		t.Fatalf("Remote: %v", err)
	}
	if len(remote.Active) != 1 || remote.Active[0] != "p1" {
		t.Fatalf("unexpected active: %+v", remote.Active)
	}
	if len(remote.Throttled) != 1 || remote.Throttled[0] != "p2" {
		t.Fatalf("unexpected throttled: %+v", remote.Throttled)
	}
}

func TestUnauthorizedRequestRejected(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRuntime{})

	badClient, err := NewClient(srv.SocketPath(), srv.cookiePath)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	badClient.authToken = "wrong"

	if _, err := badClient.Status(); err == nil {
		t.Fatal("expected unauthorized error, got nil")
	}
}

func TestStaleSocketIsRemoved(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "control.sock")
	cookiePath := filepath.Join(dir, "cookie")

	if err := os.WriteFile(socketPath, []byte("not a socket"), 0600); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	srv := NewServer(&fakeRuntime{}, socketPath, cookiePath, "test", NewMetrics())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start should recover from a stale socket file: %v", err)
	}
	srv.Stop()
}
