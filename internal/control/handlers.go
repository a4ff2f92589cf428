package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// registerRoutes sets up the read-only route table. Every route here
// is GET: this API has no mutation surface, by design (spec.md §1
// scopes the frontend/transport layers out of core; this is a status
// mirror for them, not a control plane).
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/peers", s.handlePeers)
	mux.HandleFunc("GET /v1/remote", s.handleRemote)
}

func wantsText(r *http.Request) bool {
	if r.URL.Query().Get("format") == "text" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/plain")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, text)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	peers, hasRemote := s.runtime.Peers()
	resp := StatusResponse{
		HostID:        s.runtime.HostID(),
		ClusterName:   s.runtime.ClusterName(),
		Version:       s.runtime.Version(),
		UptimeSeconds: int64(time.Since(s.runtime.StartTime()).Seconds()),
		KnownPeers:    len(peers),
		HasRemote:     hasRemote,
	}

	if wantsText(r) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "host_id: %s\n", resp.HostID)
		fmt.Fprintf(&sb, "cluster: %s\n", resp.ClusterName)
		fmt.Fprintf(&sb, "version: %s\n", resp.Version)
		fmt.Fprintf(&sb, "uptime: %ds\n", resp.UptimeSeconds)
		fmt.Fprintf(&sb, "known_peers: %d\n", resp.KnownPeers)
		fmt.Fprintf(&sb, "has_remote: %v\n", resp.HasRemote)
		respondText(w, http.StatusOK, sb.String())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, _ := s.runtime.Peers()

	if wantsText(r) {
		var sb strings.Builder
		for _, p := range peers {
			fmt.Fprintf(&sb, "%s\t%s\t%s\t%d known peers\trtt=%s\n",
				p.ID, p.PrimaryAddr, p.RemoteState, p.KnownPeerCount, rttText(p.RoundtripMs))
		}
		respondText(w, http.StatusOK, sb.String())
		return
	}
	respondJSON(w, http.StatusOK, peers)
}

func rttText(ms *uint64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *ms)
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	resp := RemoteResponse{
		Active:    s.runtime.ActivePeers(),
		Throttled: s.runtime.ThrottledPeers(),
	}

	if wantsText(r) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "active: %s\n", strings.Join(resp.Active, ", "))
		fmt.Fprintf(&sb, "throttled: %s\n", strings.Join(resp.Throttled, ", "))
		respondText(w, http.StatusOK, sb.String())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
