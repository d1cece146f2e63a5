package api

import (
	"encoding/json"
	"net/http"

	"github.com/edgecoder/coordinator/internal/identity"
	"github.com/edgecoder/coordinator/internal/mesh"
	"github.com/edgecoder/coordinator/internal/protocol"
)

// handleMeshPeers serves GET /mesh/peers: the up-to-50 most-recently-seen
// peers, the same set a bootstrapping peer fetches (spec §4.2).
func (s *Server) handleMeshPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mesh.BuildPeerExchangePayload(s.Peers))
}

type registerPeerRequest struct {
	PeerID       string `json:"peerId"`
	PublicKeyPem string `json:"publicKeyPem"`
	URL          string `json:"url"`
	NetworkMode  string `json:"networkMode"`
	Role         string `json:"role"`
}

// handleMeshRegisterPeer serves POST /mesh/register-peer (spec §4.2
// bootstrap step 1).
func (s *Server) handleMeshRegisterPeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, KindBadRequest, "method not allowed")
		return
	}
	var req registerPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	pub, err := identity.DecodePublicPEM([]byte(req.PublicKeyPem))
	if err != nil {
		writeError(w, KindBadRequest, "invalid publicKeyPem")
		return
	}
	err = s.Peers.Register(mesh.Entry{
		PeerID:      req.PeerID,
		PublicKey:   pub,
		Role:        identity.Role(req.Role),
		NetworkMode: identity.NetworkMode(req.NetworkMode),
		URL:         req.URL,
	}, protocol.NowMs())
	if err != nil {
		writeError(w, KindBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMeshIngest serves POST /mesh/ingest: validate an incoming gossip
// message, then dispatch it by type (spec §4.1/§4.2).
func (s *Server) handleMeshIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, KindBadRequest, "method not allowed")
		return
	}
	var env mesh.MessageEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	msg := protocol.Message{
		ID: env.ID, Type: protocol.Kind(env.Type), FromPeerID: env.FromPeerID,
		IssuedAtMs: env.IssuedAtMs, TTLMs: env.TTLMs, Payload: env.Payload, Signature: env.Signature,
	}
	if msg.FromPeerID == s.Self.PeerID() {
		// spec §4.1: "Own messages are silently ignored on receive."
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if err := protocol.Validate(msg, s.Dedup, s.Peers, protocol.NowMs()); err != nil {
		switch err {
		case protocol.ErrDuplicateMessage:
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true}) // idempotent, spec §8 round-trip
		case protocol.ErrMessageExpired:
			writeError(w, KindBadRequest, "message expired")
		default:
			writeError(w, KindInvalidSignature, "")
		}
		return
	}

	switch msg.Type {
	case protocol.KindPeerExchange:
		_ = mesh.IngestPeerExchange(s.Peers, msg.Payload)
	case protocol.KindCapabilitySummary:
		_ = s.Capabilities.Ingest(msg.Payload)
	case protocol.KindBlacklistUpdate:
		s.ingestBlacklistUpdate(msg.Payload)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMeshCapabilities serves GET /mesh/capabilities: the local
// federatedCapabilities view (spec §4.2).
func (s *Server) handleMeshCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"federatedCapabilities": s.Capabilities.Snapshot(),
	})
}

