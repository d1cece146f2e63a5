package ledger

import "math"

// IssuanceEpoch mirrors spec §3 exactly.
type IssuanceEpoch struct {
	IssuanceEpochID          string
	CoordinatorID            string
	WindowStartMs            int64
	WindowEndMs              int64
	LoadIndex                float64
	DailyPoolTokens          float64
	HourlyTokens             float64
	TotalWeightedContribution float64
	ContributionCount        int
	Finalized                bool
	CreatedAtMs              int64
}

// IssuanceAllocation is one account's share of an epoch's hourly tokens.
type IssuanceAllocation struct {
	EpochID             string
	AccountID           string
	WeightedContribution float64
	IssuedTokens        float64
}

// PayoutTranche mirrors spec §4.5's contributor/coordinator/reserve split.
type PayoutTranche string

const (
	TrancheContributor PayoutTranche = "contributor"
	TrancheCoordinator PayoutTranche = "coordinator"
	TrancheReserve     PayoutTranche = "reserve"
)

// IssuancePayoutEvent is one tranche's payout for an epoch.
type IssuancePayoutEvent struct {
	EpochID string
	Tranche PayoutTranche
	Tokens  float64
}

// IssuanceCurve carries the tunables of spec §6's ISSUANCE_* environment
// variables.
type IssuanceCurve struct {
	BaseDailyPool      float64
	MinDailyPool       float64
	MaxDailyPool       float64
	LoadCurveSlope     float64
	SmoothingAlpha     float64
	CoordinatorShare   float64
	ReserveShare       float64
}

// Contribution is one account's weighted contribution for an epoch
// window, gathered from the credit engine's accrual events.
type Contribution struct {
	AccountID            string
	WeightedContribution float64
}

// SmoothLoadIndex applies the EMA smoothing of spec §4.5 step 1:
// smoothed = alpha*raw + (1-alpha)*previous.
func SmoothLoadIndex(curve IssuanceCurve, rawLoadIndex, previousSmoothed float64) float64 {
	return curve.SmoothingAlpha*rawLoadIndex + (1-curve.SmoothingAlpha)*previousSmoothed
}

// ComputeDailyPool implements spec §4.5 step 2:
// dailyPool = clamp(base × (1 + max(0, loadIndex-1) × slope), min, max).
func ComputeDailyPool(curve IssuanceCurve, smoothedLoadIndex float64) float64 {
	pool := curve.BaseDailyPool * (1 + math.Max(0, smoothedLoadIndex-1)*curve.LoadCurveSlope)
	return math.Max(curve.MinDailyPool, math.Min(curve.MaxDailyPool, pool))
}

// BuildEpoch assembles an IssuanceEpoch plus its per-account allocations
// and tranche payouts (spec §4.5 steps 1-4).
func BuildEpoch(
	epochID, coordinatorID string,
	windowStartMs, windowEndMs int64,
	curve IssuanceCurve,
	smoothedLoadIndex float64,
	contributions []Contribution,
	nowMs int64,
) (IssuanceEpoch, []IssuanceAllocation, []IssuancePayoutEvent) {
	dailyPool := ComputeDailyPool(curve, smoothedLoadIndex)
	hourlyTokens := dailyPool / 24

	var totalWeighted float64
	for _, c := range contributions {
		if c.WeightedContribution > 0 {
			totalWeighted += c.WeightedContribution
		}
	}

	contributorShare := 1 - curve.CoordinatorShare - curve.ReserveShare
	contributorPool := hourlyTokens * contributorShare

	allocations := make([]IssuanceAllocation, 0, len(contributions))
	for _, c := range contributions {
		if c.WeightedContribution <= 0 || totalWeighted == 0 {
			continue
		}
		issued := contributorPool * c.WeightedContribution / totalWeighted
		allocations = append(allocations, IssuanceAllocation{
			EpochID: epochID, AccountID: c.AccountID,
			WeightedContribution: c.WeightedContribution, IssuedTokens: issued,
		})
	}

	payouts := []IssuancePayoutEvent{
		{EpochID: epochID, Tranche: TrancheContributor, Tokens: contributorPool},
		{EpochID: epochID, Tranche: TrancheCoordinator, Tokens: hourlyTokens * curve.CoordinatorShare},
		{EpochID: epochID, Tranche: TrancheReserve, Tokens: hourlyTokens * curve.ReserveShare},
	}

	epoch := IssuanceEpoch{
		IssuanceEpochID:           epochID,
		CoordinatorID:             coordinatorID,
		WindowStartMs:             windowStartMs,
		WindowEndMs:               windowEndMs,
		LoadIndex:                 smoothedLoadIndex,
		DailyPoolTokens:           dailyPool,
		HourlyTokens:              hourlyTokens,
		TotalWeightedContribution: totalWeighted,
		ContributionCount:         len(contributions),
		Finalized:                 true,
		CreatedAtMs:               nowMs,
	}
	return epoch, allocations, payouts
}
