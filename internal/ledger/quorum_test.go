package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiredApprovalsAndQuorum(t *testing.T) {
	require.Equal(t, 3, RequiredApprovals(5))
	require.True(t, HasQuorum(3, 5))
	require.False(t, HasQuorum(2, 5))
}

func TestIssuanceAllocationRespectsShareCeiling(t *testing.T) {
	curve := IssuanceCurve{
		BaseDailyPool: 2400, MinDailyPool: 100, MaxDailyPool: 10000,
		LoadCurveSlope: 0.5, SmoothingAlpha: 0.3,
		CoordinatorShare: 0.1, ReserveShare: 0.1,
	}
	contributions := []Contribution{
		{AccountID: "a", WeightedContribution: 3},
		{AccountID: "b", WeightedContribution: 1},
	}
	epoch, allocations, payouts := BuildEpoch("e1", "coord-1", 0, 3600_000, curve, 1.0, contributions, 0)

	var totalIssued float64
	for _, a := range allocations {
		totalIssued += a.IssuedTokens
	}
	ceiling := epoch.HourlyTokens * (1 - curve.CoordinatorShare - curve.ReserveShare)
	require.LessOrEqual(t, totalIssued, ceiling+0.0001)

	var contributorPayout float64
	for _, p := range payouts {
		if p.Tranche == TrancheContributor {
			contributorPayout = p.Tokens
		}
	}
	require.InDelta(t, ceiling, contributorPayout, 0.0001)
}
