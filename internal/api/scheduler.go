package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edgecoder/coordinator/internal/behavior"
	"github.com/edgecoder/coordinator/internal/ledger"
	"github.com/edgecoder/coordinator/internal/metrics"
	"github.com/edgecoder/coordinator/internal/protocol"
	"github.com/edgecoder/coordinator/internal/scheduler"
	"github.com/google/uuid"
)

type submitRequest struct {
	TaskID      string `json:"taskId"`
	Kind        string `json:"kind"`
	Language    string `json:"language"`
	Input       string `json:"input"`
	TimeoutMs   int64  `json:"timeoutMs"`
	SnapshotRef string `json:"snapshotRef"`
	ProjectMeta struct {
		ProjectID     string `json:"projectId"`
		TenantID      string `json:"tenantId"`
		ResourceClass string `json:"resourceClass"`
		Priority      int    `json:"priority"`
	} `json:"projectMeta"`
}

// handleSubmit serves POST /submit: enqueue a new subtask (spec §4.3).
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, KindBadRequest, "method not allowed")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	if req.TaskID == "" || req.ProjectMeta.ProjectID == "" {
		writeError(w, KindBadRequest, "taskId and projectMeta.projectId are required")
		return
	}

	created := s.Queue.Enqueue(scheduler.Subtask{
		ID:        uuid.NewString(),
		TaskID:    req.TaskID,
		Kind:      scheduler.Kind(req.Kind),
		Language:  req.Language,
		Input:     req.Input,
		TimeoutMs: req.TimeoutMs,
		SnapshotRef: req.SnapshotRef,
		Project: scheduler.ProjectMeta{
			ProjectID:     req.ProjectMeta.ProjectID,
			TenantID:      req.ProjectMeta.TenantID,
			ResourceClass: scheduler.ResourceClass(req.ProjectMeta.ResourceClass),
			Priority:      req.ProjectMeta.Priority,
		},
	}, protocol.NowMs())

	_, _ = s.OrderingChain.Append(ledger.QueueEventRecord{
		ID:        uuid.NewString(),
		EventType: ledger.EventTaskClaimed,
		TaskID:    created.TaskID,
		SubtaskID: created.ID,
		ActorID:   s.Self.PeerID(),
	}, s.Self)

	writeJSON(w, http.StatusCreated, created)
}

// blacklistEligibility implements scheduler.Eligibility against the
// running blacklist chain: a blacklisted agent is never handed a claim
// (spec §4.3 step 5, spec §4.6).
type blacklistEligibility struct {
	blacklist interface {
		IsBlacklisted(agentID string, nowMs int64) bool
	}
	nowMs int64
}

func (e blacklistEligibility) Eligible(agentID string, _ scheduler.ProjectMeta) bool {
	if e.blacklist == nil {
		return true
	}
	return !e.blacklist.IsBlacklisted(agentID, e.nowMs)
}

// handleClaim serves POST /claim: an agent asks for the next fair-share
// subtask it is eligible for (spec §4.3 steps 1-5).
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, KindBadRequest, "method not allowed")
		return
	}
	agentID := r.Header.Get("x-agent-id")
	if agentID == "" {
		writeError(w, KindBadRequest, "x-agent-id header is required")
		return
	}
	if s.ClaimLimiter != nil && !s.ClaimLimiter.Allow(agentID, time.Now()) {
		writeError(w, KindRateLimited, "too many claims for this agent")
		return
	}
	nowMs := protocol.NowMs()
	claimed, err := s.Queue.Claim(agentID, blacklistEligibility{blacklist: s.Blacklist, nowMs: nowMs}, nowMs)
	if err != nil {
		writeError(w, KindNotFound, "no eligible subtask available")
		return
	}

	metrics.ClaimLatencySeconds.Observe(time.Duration(nowMs-claimed.EnqueuedAtMs).Seconds())
	if s.Tracker != nil {
		s.Tracker.Record(behavior.Event{AgentID: agentID, Kind: behavior.EventClaim, AtMs: nowMs})
	}
	_, _ = s.OrderingChain.Append(ledger.QueueEventRecord{
		ID:        uuid.NewString(),
		EventType: ledger.EventTaskClaimed,
		TaskID:    claimed.TaskID,
		SubtaskID: claimed.ID,
		ActorID:   agentID,
	}, s.Self)

	writeJSON(w, http.StatusOK, claimed)
}

type completeRequest struct {
	SubtaskID  string `json:"subtaskId"`
	TaskID     string `json:"taskId"`
	AgentID    string `json:"agentId"`
	OK         bool   `json:"ok"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	DurationMs int64  `json:"durationMs"`
}

// handleComplete serves POST /complete: retire a claimed subtask and feed
// its result into the behavioral tracker (spec §4.3 step 6, spec §4.7).
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, KindBadRequest, "method not allowed")
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	if req.SubtaskID == "" {
		writeError(w, KindBadRequest, "subtaskId is required")
		return
	}
	if err := s.Queue.Complete(req.SubtaskID); err != nil {
		writeError(w, KindBadRequest, err.Error())
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = r.Header.Get("x-agent-id")
	}
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
	_, _ = s.OrderingChain.Append(ledger.QueueEventRecord{
		ID:        uuid.NewString(),
		EventType: ledger.EventTaskComplete,
		TaskID:    req.TaskID,
		SubtaskID: req.SubtaskID,
		ActorID:   agentID,
	}, s.Self)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type capacityResponse struct {
	QueueDepth int `json:"queueDepth"`
	PeerCount  int `json:"peerCount"`
}

// handleCapacity serves GET /capacity: a coarse view of local queue
// pressure, used by peers deciding whether to forward work here.
func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capacityResponse{
		QueueDepth: s.Queue.Depth(),
		PeerCount:  s.Peers.Len(),
	})
}
