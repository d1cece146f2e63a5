// Package behavior implements the rolling behavioral tracker, the ten
// anomaly rules, and the strike-based auto-blacklister of spec §4.7.
package behavior

import (
	"math"
	"sync"
	"time"
)

// EventKind enumerates the raw signals the tracker records.
type EventKind string

const (
	EventTaskResult        EventKind = "task_result"
	EventProtocolViolation EventKind = "protocol_violation"
	EventRegistration      EventKind = "registration"
	EventHeartbeat         EventKind = "heartbeat"
	EventClaim             EventKind = "claim"
	EventRequeue           EventKind = "requeue"
)

// Event is one raw behavioral signal for an agent.
type Event struct {
	AgentID      string
	Kind         EventKind
	AtMs         int64
	DurationMs   int64
	Success      bool
	Empty        bool
	OutputHash   string
	ViolationType string // "signature_failure" | "replay"
	StillClaiming bool
}

// Tracker is the rolling per-agent event window of spec §4.7 (default 1
// hour). Pruning happens lazily on each query.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	events map[string][]Event
}

func NewTracker(window time.Duration) *Tracker {
	return &Tracker{window: window, events: make(map[string][]Event)}
}

// Record appends an event to an agent's rolling window.
func (t *Tracker) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[e.AgentID] = append(t.events[e.AgentID], e)
}

func (t *Tracker) pruneLocked(agentID string, nowMs int64) []Event {
	cutoff := nowMs - t.window.Milliseconds()
	events := t.events[agentID]
	kept := events[:0]
	for _, e := range events {
		if e.AtMs >= cutoff {
			kept = append(kept, e)
		}
	}
	t.events[agentID] = kept
	return kept
}

// Agents returns every agentId with at least one recorded event, used by
// the periodic anomaly-evaluation sweep to know which agents to query.
func (t *Tracker) Agents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.events))
	for id := range t.events {
		out = append(out, id)
	}
	return out
}

// Stats mirrors spec §3 AgentBehaviorStats (derived, never stored as a
// source of truth).
type Stats struct {
	TasksTotal          int
	TasksSuccess        int
	TasksEmpty          int
	TasksIdentical      int
	DurationMeanMs      float64
	DurationMinMs       int64
	DurationStdDevMs    float64
	SuspiciouslyFastCount int
	ProtocolViolations  int
	Registrations       int
	ClaimCount          int
	Requeues            int
	MaxHeartbeatGapMs   int64
	ConcurrentClaims    int
}

// Query computes Stats over an agent's current rolling window, pruning
// stale entries first (spec §4.7: "each query prunes entries outside the
// window").
func (t *Tracker) Query(agentID string, nowMs int64) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.pruneLocked(agentID, nowMs)

	var s Stats
	var durations []int64
	var lastOutputHash string
	var identicalRun int
	var lastHeartbeat int64 = -1
	var claimed int

	for _, e := range events {
		switch e.Kind {
		case EventTaskResult:
			s.TasksTotal++
			if e.Success {
				s.TasksSuccess++
			}
			if e.Empty {
				s.TasksEmpty++
			}
			durations = append(durations, e.DurationMs)
			if e.DurationMs < 500 {
				s.SuspiciouslyFastCount++
			}
			if e.OutputHash != "" && e.OutputHash == lastOutputHash {
				identicalRun++
				if identicalRun > s.TasksIdentical {
					s.TasksIdentical = identicalRun
				}
			} else {
				identicalRun = 1
			}
			lastOutputHash = e.OutputHash
		case EventProtocolViolation:
			s.ProtocolViolations++
		case EventRegistration:
			s.Registrations++
		case EventHeartbeat:
			if lastHeartbeat >= 0 {
				gap := e.AtMs - lastHeartbeat
				if gap > s.MaxHeartbeatGapMs {
					s.MaxHeartbeatGapMs = gap
				}
			}
			lastHeartbeat = e.AtMs
			if e.StillClaiming {
				s.ConcurrentClaims++
			}
		case EventClaim:
			claimed++
		case EventRequeue:
			s.Requeues++
		}
	}
	s.ClaimCount = claimed

	if len(durations) > 0 {
		s.DurationMinMs = durations[0]
		var sum int64
		for _, d := range durations {
			sum += d
			if d < s.DurationMinMs {
				s.DurationMinMs = d
			}
		}
		s.DurationMeanMs = float64(sum) / float64(len(durations))
		var variance float64
		for _, d := range durations {
			diff := float64(d) - s.DurationMeanMs
			variance += diff * diff
		}
		variance /= float64(len(durations))
		s.DurationStdDevMs = math.Sqrt(variance)
	}
	return s
}
