package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type alwaysEligible struct{}

func (alwaysEligible) Eligible(agentID string, project ProjectMeta) bool { return true }

func TestFairShareSchedulingAcrossTwoProjects(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 6; i++ {
		q.Enqueue(Subtask{ID: fmt.Sprintf("a-%d", i), TimeoutMs: 60_000, Project: ProjectMeta{ProjectID: "A", Priority: 1}}, int64(i))
	}
	for i := 0; i < 4; i++ {
		q.Enqueue(Subtask{ID: fmt.Sprintf("b-%d", i), TimeoutMs: 60_000, Project: ProjectMeta{ProjectID: "B", Priority: 1}}, int64(i))
	}

	agents := []string{"ag1", "ag2", "ag3", "ag4", "ag5"}
	claimsPerAgent := map[string]int{}

	for {
		claimedAny := false
		for _, agent := range agents {
			s, err := q.Claim(agent, alwaysEligible{}, 1000)
			if err != nil {
				continue
			}
			claimedAny = true
			claimsPerAgent[agent]++
			require.NoError(t, q.Complete(s.ID))
		}
		if !claimedAny {
			break
		}
	}

	require.Equal(t, int64(6), q.CompletionCount("A"))
	require.Equal(t, int64(4), q.CompletionCount("B"))
	for _, agent := range agents {
		require.Equal(t, 2, claimsPerAgent[agent], "agent %s", agent)
	}
}

func TestClaimTiesBreakByPriorityThenFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Subtask{ID: "low-prio-first", TimeoutMs: 1000, Project: ProjectMeta{ProjectID: "P", Priority: 1}}, 1)
	q.Enqueue(Subtask{ID: "high-prio-second", TimeoutMs: 1000, Project: ProjectMeta{ProjectID: "P", Priority: 5}}, 2)

	claimed, err := q.Claim("agent", alwaysEligible{}, 1000)
	require.NoError(t, err)
	require.Equal(t, "high-prio-second", claimed.ID)
}

func TestRequeueFailsAfterMaxRequeues(t *testing.T) {
	q := NewQueue()
	s := q.Enqueue(Subtask{ID: "s1", TimeoutMs: 100, MaxRequeues: 2, Project: ProjectMeta{ProjectID: "P"}}, 0)
	require.Equal(t, StateEnqueued, s.State)

	for i := 0; i < 2; i++ {
		_, err := q.Claim("agent", alwaysEligible{}, 1000)
		require.NoError(t, err)
		requeued, err := q.Requeue("s1")
		require.NoError(t, err)
		if i < 1 {
			require.Equal(t, StateEnqueued, requeued.State)
		} else {
			require.Equal(t, StateFailed, requeued.State)
		}
	}
}

func TestTimeoutClaimsRequeuesStaleClaims(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Subtask{ID: "s1", TimeoutMs: 5000, MaxRequeues: 3, Project: ProjectMeta{ProjectID: "P"}}, 0)
	claimed, err := q.Claim("agent", alwaysEligible{}, 1000)
	require.NoError(t, err)
	require.Equal(t, StateClaimed, claimed.State)

	requeued := q.TimeoutClaims(7000)
	require.Len(t, requeued, 1)
	require.Equal(t, StateEnqueued, requeued[0].State)
}
