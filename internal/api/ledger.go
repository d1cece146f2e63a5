package api

import (
	"net/http"

	"github.com/edgecoder/coordinator/internal/ledger"
)

type ledgerSnapshotResponse struct {
	OrderingChain []ledger.QueueEventRecord `json:"orderingChain"`
	QuorumChain   []ledger.QuorumLedgerRecord `json:"quorumChain,omitempty"`
}

// handleLedgerSnapshot serves GET /ledger/snapshot (spec §6).
func (s *Server) handleLedgerSnapshot(w http.ResponseWriter, r *http.Request) {
	resp := ledgerSnapshotResponse{OrderingChain: s.OrderingChain.Snapshot()}
	if s.QuorumChain != nil {
		resp.QuorumChain = s.QuorumChain.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

type ledgerVerifyResponse struct {
	OK         bool        `json:"ok"`
	Reason     ledger.Break `json:"reason,omitempty"`
	Breakpoint int         `json:"breakpoint"`
}

// handleLedgerVerify serves POST /ledger/verify: recompute and verify the
// ordering chain from genesis (spec §4.5).
func (s *Server) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	result := ledger.Verify(s.OrderingChain.Snapshot(), s.Peers)
	writeJSON(w, http.StatusOK, ledgerVerifyResponse{
		OK: result.OK, Reason: result.Reason, Breakpoint: result.Breakpoint,
	})
}
