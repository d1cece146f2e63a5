package mesh

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/edgecoder/coordinator/internal/protocol"
)

// ModelCapability summarizes one model's availability across a
// coordinator's local agents (spec §4.2 capability_summary).
type ModelCapability struct {
	AgentCount        int     `json:"agentCount"`
	TotalParamCapacity int64  `json:"totalParamCapacity"`
	AvgLoad           float64 `json:"avgLoad"`
}

// CapabilitySummary is the payload of a capability_summary gossip message.
type CapabilitySummary struct {
	CoordinatorID      string                     `json:"coordinatorId"`
	AgentCount         int                        `json:"agentCount"`
	ModelAvailability  map[string]ModelCapability `json:"modelAvailability"`
	TimestampMs        int64                      `json:"timestamp"`
}

// CapabilityTable maintains the federatedCapabilities map of spec §4.2,
// used for cross-coordinator task routing when local agents cannot serve
// a task's required model.
type CapabilityTable struct {
	mu    sync.RWMutex
	byCoordinator map[string]CapabilitySummary
}

func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{byCoordinator: make(map[string]CapabilitySummary)}
}

// Ingest records a received capability_summary, replacing any prior
// summary from the same coordinator.
func (t *CapabilityTable) Ingest(payload json.RawMessage) error {
	var summary CapabilitySummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCoordinator[summary.CoordinatorID] = summary
	return nil
}

// FindCapableCoordinator returns the id of a peer coordinator whose
// capability summary advertises nonzero capacity for model, used to
// forward a task the local mesh cannot serve.
func (t *CapabilityTable) FindCapableCoordinator(model string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, summary := range t.byCoordinator {
		if cap, ok := summary.ModelAvailability[model]; ok && cap.AgentCount > 0 {
			return id, true
		}
	}
	return "", false
}

// Snapshot returns every known coordinator's capability summary, keyed by
// coordinatorId, for the read-only /mesh/capabilities view.
func (t *CapabilityTable) Snapshot() map[string]CapabilitySummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]CapabilitySummary, len(t.byCoordinator))
	for id, summary := range t.byCoordinator {
		out[id] = summary
	}
	return out
}

// BroadcastCapability runs one capability_summary cycle (spec §4.2,
// default every 60s).
func (b *Broadcaster) BroadcastCapability(ctx context.Context, summary CapabilitySummary) (BroadcastResult, error) {
	return b.Broadcast(ctx, protocol.KindCapabilitySummary, summary, 120_000)
}
