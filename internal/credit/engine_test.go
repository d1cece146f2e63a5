package credit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sequentialIDGen() func() string {
	n := 0
	return func() string {
		n++
		return string(rune('0' + n))
	}
}

func TestCreditSettlementScenario(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), sequentialIDGen())

	// Account P accrues from {cpuSeconds:20, quality:1.0} at load
	// pressure 1.0 -> balance 20.0 (base cpu rate 1.0 x quality 1 x
	// loadMultiplier(1.0)=1.0 x 20 cpuSeconds).
	_, err := engine.Accrue(ContributionReport{
		ReportID: "r1", AccountID: "P", CPUSecondsEquivalent: 20,
		ResourceClass: "cpu", Quality: 1.0,
	}, LoadSample{QueuedTasks: 1, ActiveAgents: 0, Capacity: 1})
	require.NoError(t, err)
	require.InDelta(t, 20.0, engine.Balance("P"), 0.001)

	_, err = engine.Accrue(ContributionReport{
		ReportID: "r2", AccountID: "C", CPUSecondsEquivalent: 15,
		ResourceClass: "cpu", Quality: 1.0,
	}, LoadSample{QueuedTasks: 1, ActiveAgents: 0, Capacity: 1})
	require.NoError(t, err)
	require.InDelta(t, 15.0, engine.Balance("C"), 0.001)

	_, err = engine.Spend("C", 10, "task_dispatch", "", 1000)
	require.NoError(t, err)
	require.InDelta(t, 5.0, engine.Balance("C"), 0.001)

	_, err = engine.Accrue(ContributionReport{
		ReportID: "r2", AccountID: "C", CPUSecondsEquivalent: 999,
		ResourceClass: "cpu", Quality: 1.0,
	}, LoadSample{})
	require.ErrorIs(t, err, ErrDuplicateReport)
	require.InDelta(t, 5.0, engine.Balance("C"), 0.001)
}

func TestAccrueGPUUsesQuadrupleBaseRate(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), sequentialIDGen())
	_, err := engine.Accrue(ContributionReport{
		ReportID: "r1", AccountID: "G", CPUSecondsEquivalent: 20,
		ResourceClass: "gpu", Quality: 1.0,
	}, LoadSample{QueuedTasks: 1, ActiveAgents: 0, Capacity: 1})
	require.NoError(t, err)
	require.InDelta(t, 80.0, engine.Balance("G"), 0.001)
}

func TestSpendBoundaryAtExactBalance(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), sequentialIDGen())
	_, err := engine.Accrue(ContributionReport{ReportID: "r1", AccountID: "A", CPUSecondsEquivalent: 10, ResourceClass: "gpu", Quality: 1.0}, LoadSample{})
	require.NoError(t, err)
	bal := engine.Balance("A")

	_, err = engine.Spend("A", bal, "reason", "", 0)
	require.NoError(t, err)
	require.InDelta(t, 0, engine.Balance("A"), 0.0001)
}

func TestSpendRejectsOneUnitOverBalance(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), sequentialIDGen())
	_, err := engine.Accrue(ContributionReport{ReportID: "r1", AccountID: "A", CPUSecondsEquivalent: 10, ResourceClass: "gpu", Quality: 1.0}, LoadSample{})
	require.NoError(t, err)
	bal := engine.Balance("A")

	_, err = engine.Spend("A", bal+1, "reason", "", 0)
	require.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestLoadMultiplierClampsAndInterpolates(t *testing.T) {
	require.InDelta(t, 0.8, loadMultiplier(0.2), 0.001)
	require.InDelta(t, 1.0, loadMultiplier(1.0), 0.001)
	require.InDelta(t, 1.6, loadMultiplier(3.0), 0.001)
	require.InDelta(t, 0.8, loadMultiplier(0), 0.001) // below first knot clamps to its y
}

func TestPricePerComputeUnitClamps(t *testing.T) {
	price := PricePerComputeUnitSats("cpu", PricingInputs{Demand: 1000, Capacity: 1})
	require.InDelta(t, 120, price, 0.001) // 4.0x base=30
}
