package api

import (
	"encoding/json"
	"net/http"

	"github.com/edgecoder/coordinator/internal/credit"
)

type bleSyncEntry struct {
	ReportID             string  `json:"reportId"`
	AccountID            string  `json:"accountId"`
	CPUSecondsEquivalent float64 `json:"cpuSecondsEquivalent"`
	ResourceClass        string  `json:"resourceClass"`
	Quality              float64 `json:"quality"`
	RelatedTaskID        string  `json:"relatedTaskId"`
	TimestampMs          int64   `json:"timestampMs"`
	QueuedTasks          int     `json:"queuedTasks"`
	ActiveAgents         int     `json:"activeAgents"`
	Capacity             int     `json:"capacity"`
}

type bleSyncRequest struct {
	Entries []bleSyncEntry `json:"entries"`
}

type bleSyncResult struct {
	ReportID string `json:"reportId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// handleCreditsBleSync serves POST /credits/ble-sync: replay a batch of
// contribution reports accrued while an agent was off-mesh. Each entry's
// reportId flows straight into Engine.Accrue, which already rejects
// duplicates, so a device can resubmit a batch safely after a partial
// failure.
func (s *Server) handleCreditsBleSync(w http.ResponseWriter, r *http.Request) {
	var req bleSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}

	results := make([]bleSyncResult, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if entry.ReportID == "" || entry.AccountID == "" {
			results = append(results, bleSyncResult{ReportID: entry.ReportID, Accepted: false, Reason: "missing reportId or accountId"})
			continue
		}
		_, err := s.Credit.Accrue(credit.ContributionReport{
			ReportID:             entry.ReportID,
			AccountID:            entry.AccountID,
			CPUSecondsEquivalent: entry.CPUSecondsEquivalent,
			ResourceClass:        entry.ResourceClass,
			Quality:              entry.Quality,
			RelatedTaskID:        entry.RelatedTaskID,
			TimestampMs:          entry.TimestampMs,
		}, credit.LoadSample{
			QueuedTasks:  entry.QueuedTasks,
			ActiveAgents: entry.ActiveAgents,
			Capacity:     entry.Capacity,
		})
		if err != nil {
			results = append(results, bleSyncResult{ReportID: entry.ReportID, Accepted: false, Reason: err.Error()})
			continue
		}
		results = append(results, bleSyncResult{ReportID: entry.ReportID, Accepted: true})
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
