package api

import (
	"net/http"
	"runtime"
	"time"
)

type identityResponse struct {
	PeerID       string `json:"peerId"`
	PublicKeyPem string `json:"publicKeyPem"`
	URL          string `json:"url"`
	NetworkMode  string `json:"networkMode"`
	Role         string `json:"role"`
}

// handleIdentity serves GET /identity (spec §4.1: "{peerId, publicKeyPem,
// url, networkMode, role}"), unauthenticated.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	pub, err := s.Self.ExportPublicPEM()
	if err != nil {
		writeError(w, KindProviderUnavailable, "could not export public key")
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{
		PeerID:       s.Self.PeerID(),
		PublicKeyPem: string(pub),
		URL:          s.Self.URL(),
		NetworkMode:  string(s.Self.NetworkMode()),
		Role:         string(s.Self.Role()),
	})
}

type runtimeHealth struct {
	UptimeMs     int64 `json:"uptimeMs"`
	Goroutines   int   `json:"goroutines"`
	PeerCount    int   `json:"peerCount"`
}

// handleHealthRuntime reports goroutine count, uptime, and peer-table
// size, in the spirit of a lightweight liveness probe.
func (s *Server) handleHealthRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runtimeHealth{
		UptimeMs:   time.Since(s.StartedAt).Milliseconds(),
		Goroutines: runtime.NumGoroutine(),
		PeerCount:  s.Peers.Len(),
	})
}

type statusResponse struct {
	PeerID     string `json:"peerId"`
	PeerCount  int    `json:"peerCount"`
	QueueDepth int    `json:"queueDepth"`
}

// handleStatus serves GET /status, an unauthenticated summary view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		PeerID:     s.Self.PeerID(),
		PeerCount:  s.Peers.Len(),
		QueueDepth: s.Queue.Depth(),
	})
}
