package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/edgecoder/coordinator/internal/behavior"
	"github.com/edgecoder/coordinator/internal/protocol"
)

// directWorkState is an in-memory peer-to-peer work handoff tracker
// (spec §6: "/agent-mesh/direct-work/{offer,accept,result,audit}: peer-to-peer
// work handoff"), kept separate from the fair-share Queue since direct
// work bypasses project-based scheduling entirely.
type directWorkState struct {
	mu     sync.Mutex
	offers map[string]directWorkOffer
}

type directWorkOffer struct {
	OfferID    string `json:"offerId"`
	FromAgent  string `json:"fromAgentId"`
	ToAgent    string `json:"toAgentId,omitempty"`
	TaskID     string `json:"taskId"`
	State      string `json:"state"` // offered | accepted | completed
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func newDirectWorkState() *directWorkState {
	return &directWorkState{offers: make(map[string]directWorkOffer)}
}

type directWorkOfferRequest struct {
	OfferID   string `json:"offerId"`
	TaskID    string `json:"taskId"`
	FromAgent string `json:"fromAgentId"`
}

// handleDirectWorkOffer serves POST /agent-mesh/direct-work/offer.
func (s *Server) handleDirectWorkOffer(w http.ResponseWriter, r *http.Request) {
	var req directWorkOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	if req.OfferID == "" || req.TaskID == "" {
		writeError(w, KindBadRequest, "offerId and taskId are required")
		return
	}
	s.directWork.mu.Lock()
	s.directWork.offers[req.OfferID] = directWorkOffer{
		OfferID: req.OfferID, FromAgent: req.FromAgent, TaskID: req.TaskID, State: "offered",
	}
	s.directWork.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"offerId": req.OfferID, "state": "offered"})
}

type directWorkAcceptRequest struct {
	OfferID string `json:"offerId"`
	ToAgent string `json:"toAgentId"`
}

// handleDirectWorkAccept serves POST /agent-mesh/direct-work/accept.
func (s *Server) handleDirectWorkAccept(w http.ResponseWriter, r *http.Request) {
	var req directWorkAcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	s.directWork.mu.Lock()
	offer, ok := s.directWork.offers[req.OfferID]
	if !ok {
		s.directWork.mu.Unlock()
		writeError(w, KindNotFound, "no such offer")
		return
	}
	offer.ToAgent = req.ToAgent
	offer.State = "accepted"
	s.directWork.offers[req.OfferID] = offer
	s.directWork.mu.Unlock()
	writeJSON(w, http.StatusOK, offer)
}

type directWorkResultRequest struct {
	OfferID    string `json:"offerId"`
	Output     string `json:"output"`
	DurationMs int64  `json:"durationMs"`
	OK         bool   `json:"ok"`
}

// handleDirectWorkResult serves POST /agent-mesh/direct-work/result,
// recording the result and feeding the reporting agent's behavior into
// the rolling tracker (spec §4.7) for anomaly detection.
func (s *Server) handleDirectWorkResult(w http.ResponseWriter, r *http.Request) {
	var req directWorkResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	s.directWork.mu.Lock()
	offer, ok := s.directWork.offers[req.OfferID]
	if !ok {
		s.directWork.mu.Unlock()
		writeError(w, KindNotFound, "no such offer")
		return
	}
	offer.State = "completed"
	offer.Output = req.Output
	offer.DurationMs = req.DurationMs
	s.directWork.offers[req.OfferID] = offer
	agentID := offer.ToAgent
	s.directWork.mu.Unlock()

	if s.Tracker != nil && agentID != "" {
		outputHash := sha256.Sum256([]byte(req.Output))
		s.Tracker.Record(behavior.Event{
			AgentID:    agentID,
			Kind:       behavior.EventTaskResult,
			AtMs:       protocol.NowMs(),
			DurationMs: req.DurationMs,
			Success:    req.OK,
			Empty:      req.Output == "",
			OutputHash: hex.EncodeToString(outputHash[:]),
		})
	}
	writeJSON(w, http.StatusOK, offer)
}

// handleDirectWorkAudit serves GET /agent-mesh/direct-work/audit: the
// full set of tracked offers, mesh-token-gated since it exposes
// cross-agent handoff history.
func (s *Server) handleDirectWorkAudit(w http.ResponseWriter, r *http.Request) {
	s.directWork.mu.Lock()
	out := make([]directWorkOffer, 0, len(s.directWork.offers))
	for _, o := range s.directWork.offers {
		out = append(out, o)
	}
	s.directWork.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}
