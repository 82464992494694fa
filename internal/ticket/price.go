package ticket

import "math"

// AdjustPrice applies the per-block price adjustment formula from
// §4.4: when the active ticket count diverges from the target, the
// price moves by at least 1 unit and at least active*F (or target*F),
// floored at minStake.
func AdjustPrice(currentPrice, active, target uint64, adjustFactor float64, minStake uint64) uint64 {
	switch {
	case active > target:
		delta := uint64(math.Max(1, float64(active)*adjustFactor))
		return currentPrice + delta
	case active < target:
		delta := uint64(math.Max(1, float64(target)*adjustFactor))
		if delta >= currentPrice {
			return minStake
		}
		next := currentPrice - delta
		if next < minStake {
			return minStake
		}
		return next
	default:
		return currentPrice
	}
}
