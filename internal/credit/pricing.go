package credit

import "math"

// PricingInputs carries the demand/capacity inputs to dynamic pricing
// (spec §4.4: "scarcity = demand/capacity").
type PricingInputs struct {
	Demand   float64
	Capacity float64
}

func (p PricingInputs) scarcity() float64 {
	if p.Capacity <= 0 {
		return 0
	}
	return p.Demand / p.Capacity
}

// basePriceSats is spec §4.4's per-resource-class base: 30 (cpu) or 120 (gpu).
func basePriceSats(resourceClass string) float64 {
	if resourceClass == "gpu" {
		return 120
	}
	return 30
}

// PricePerComputeUnitSats implements spec §4.4's dynamic pricing formula:
// clamp(base × (0.65 + scarcity × 0.35), 0.35×base, 4.0×base).
func PricePerComputeUnitSats(resourceClass string, inputs PricingInputs) float64 {
	base := basePriceSats(resourceClass)
	price := base * (0.65 + inputs.scarcity()*0.35)
	return math.Max(0.35*base, math.Min(4.0*base, price))
}
