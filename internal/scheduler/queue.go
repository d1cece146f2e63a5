package scheduler

import (
	"sort"
	"sync"
)

// Eligibility is the agent-side predicate of spec §4.3 step 5 ("not
// blacklisted, heartbeat fresh, power policy satisfied, claim rate within
// limit"). The queue does not know how to evaluate these; it asks the
// caller once per candidate subtask.
type Eligibility interface {
	Eligible(agentID string, project ProjectMeta) bool
}

// Queue is a single coordinator's subtask queue, grouped logically by
// project (spec §4.3). All mutation is serialized through one mutex per
// spec §5 ("all queue mutations are serialized through a single critical
// section per queue").
type Queue struct {
	mu          sync.Mutex
	subtasks    map[string]*Subtask
	completions map[string]int64 // projectId -> completion count
}

func NewQueue() *Queue {
	return &Queue{
		subtasks:    make(map[string]*Subtask),
		completions: make(map[string]int64),
	}
}

// Enqueue adds a new subtask in the enqueued state.
func (q *Queue) Enqueue(s Subtask, nowMs int64) Subtask {
	q.mu.Lock()
	defer q.mu.Unlock()
	created := newSubtask(s, nowMs)
	q.subtasks[created.ID] = &created
	return created
}

// Get returns a copy of a subtask by id.
func (q *Queue) Get(id string) (Subtask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.subtasks[id]
	if !ok {
		return Subtask{}, false
	}
	return *s, true
}

// Claim implements spec §4.3's claim(agentId) selection policy:
//  1. partition ready subtasks by project
//  2. ascending completion count wins (fair share)
//  3. ties break by descending priority
//  4. further ties break by ascending enqueue time (FIFO)
func (q *Queue) Claim(agentID string, elig Eligibility, nowMs int64) (Subtask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []*Subtask
	for _, s := range q.subtasks {
		if s.State != StateEnqueued {
			continue
		}
		if elig != nil && !elig.Eligible(agentID, s.Project) {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return Subtask{}, ErrNoEligibleAgent
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci := q.completions[candidates[i].Project.ProjectID]
		cj := q.completions[candidates[j].Project.ProjectID]
		if ci != cj {
			return ci < cj
		}
		if candidates[i].Project.Priority != candidates[j].Project.Priority {
			return candidates[i].Project.Priority > candidates[j].Project.Priority
		}
		return candidates[i].EnqueuedAtMs < candidates[j].EnqueuedAtMs
	})

	winner := candidates[0]
	winner.State = StateClaimed
	winner.ClaimedBy = agentID
	winner.ClaimedAtMs = nowMs
	return *winner, nil
}

// Complete retires a subtask after a successful result (spec §4.3:
// "the subtask is retired, the result recorded"). The ordering-chain
// append and result persistence are the caller's responsibility; Complete
// only advances in-memory queue state and the per-project completion
// counter used by fair-share selection.
func (q *Queue) Complete(subtaskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.subtasks[subtaskID]
	if !ok {
		return ErrNotFound
	}
	if s.State != StateClaimed {
		return ErrNotClaimed
	}
	s.State = StateCompleted
	q.completions[s.Project.ProjectID]++
	delete(q.subtasks, subtaskID)
	return nil
}

// Requeue returns a claimed subtask to the enqueued state, incrementing
// its requeue counter. Once the counter reaches MaxRequeues the subtask
// is marked failed instead (spec §4.3).
func (q *Queue) Requeue(subtaskID string) (Subtask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.subtasks[subtaskID]
	if !ok {
		return Subtask{}, ErrNotFound
	}
	s.RequeueCount++
	s.ClaimedBy = ""
	s.ClaimedAtMs = 0
	if s.RequeueCount >= s.MaxRequeues {
		s.State = StateFailed
	} else {
		s.State = StateEnqueued
	}
	return *s, nil
}

// CompletionCount returns a project's completion count, exported for
// tests and operator introspection.
func (q *Queue) CompletionCount(projectID string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completions[projectID]
}

// Depth returns the number of subtasks still awaiting completion
// (enqueued or claimed), used by the /capacity and /status endpoints.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := 0
	for _, s := range q.subtasks {
		if s.State == StateEnqueued || s.State == StateClaimed {
			depth++
		}
	}
	return depth
}

// DepthByProject breaks Depth down per projectId, the granularity the
// queue_depth metric reports at.
func (q *Queue) DepthByProject() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for _, s := range q.subtasks {
		if s.State == StateEnqueued || s.State == StateClaimed {
			out[s.Project.ProjectID]++
		}
	}
	return out
}

// TimeoutClaims requeues every claimed subtask whose claim is older than
// timeoutMs relative to nowMs, driven by a periodic sweep (spec §4.3:
// "a worker disappearance leads to timeout and requeue").
func (q *Queue) TimeoutClaims(nowMs int64) []Subtask {
	q.mu.Lock()
	var stale []*Subtask
	for _, s := range q.subtasks {
		if s.State == StateClaimed && nowMs-s.ClaimedAtMs >= s.TimeoutMs {
			stale = append(stale, s)
		}
	}
	q.mu.Unlock()

	out := make([]Subtask, 0, len(stale))
	for _, s := range stale {
		requeued, err := q.Requeue(s.ID)
		if err == nil {
			out = append(out, requeued)
		}
	}
	return out
}
