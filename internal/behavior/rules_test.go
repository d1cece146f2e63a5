package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDuplicateForgeryTriggersCriticalAndImmediateBlacklist(t *testing.T) {
	tracker := NewTracker(time.Hour)
	for i := 0; i < 3; i++ {
		tracker.Record(Event{
			AgentID: "agent-x", Kind: EventTaskResult, AtMs: int64(i * 100),
			DurationMs: 150, Success: true, OutputHash: "same-hash",
		})
	}
	stats := tracker.Query("agent-x", 1000)
	fired := Evaluate(stats, 4, 200)

	var forgery *AnomalyEvent
	for i := range fired {
		if fired[i].RuleID == "BHV003" {
			forgery = &fired[i]
		}
	}
	require.NotNil(t, forgery)
	require.Equal(t, SeverityCritical, forgery.Severity)
	require.Equal(t, "forged_results", forgery.BlacklistReason)

	blacklister := NewAutoBlacklister()
	decision := blacklister.Observe("agent-x", fired, 1000)
	require.True(t, decision.ShouldBlacklist)
	require.Equal(t, "BHV003", decision.TriggeringEvent.RuleID)
}

func TestWarnSeverityAccumulatesToStrikeThreshold(t *testing.T) {
	blacklister := NewAutoBlacklister()
	warn := []AnomalyEvent{{RuleID: "BHV009", Severity: SeverityWarn, BlacklistReason: "robot_precision_timing"}}

	d1 := blacklister.Observe("agent-y", warn, 1000)
	require.False(t, d1.ShouldBlacklist)
	d2 := blacklister.Observe("agent-y", warn, 2000)
	require.False(t, d2.ShouldBlacklist)
	d3 := blacklister.Observe("agent-y", warn, 3000)
	require.True(t, d3.ShouldBlacklist)
}

func TestStrikesExpireOutsideWindow(t *testing.T) {
	blacklister := NewAutoBlacklister()
	warn := []AnomalyEvent{{RuleID: "BHV009", Severity: SeverityWarn}}

	blacklister.Observe("agent-z", warn, 0)
	blacklister.Observe("agent-z", warn, 1000)
	// third strike arrives after the 1-hour window expired the first two
	d := blacklister.Observe("agent-z", warn, int64(time.Hour.Milliseconds())+2000)
	require.False(t, d.ShouldBlacklist)
	require.Equal(t, 1, d.StrikeCount)
}
