package quota

// AlertThresholds are the usage fractions at which a threshold.reached event
// fires, exactly once per (tenant, metric, period). AlertState in the store
// is the idempotency guard; a single large increment can cross several
// thresholds at once and must emit each of them.
var AlertThresholds = []float64{0.70, 0.80, 0.90, 0.95}

// CrossedThresholds returns the thresholds newly reached by the post-commit
// usage value, excluding any already recorded as fired. A cap of zero yields
// nothing (an unlimited or unconfigured cap has no meaningful percentage).
func CrossedThresholds(used, cap int64, fired map[float64]bool) []float64 {
	if cap <= 0 {
		return nil
	}
	pct := float64(used) / float64(cap)

	var crossed []float64
	for _, th := range AlertThresholds {
		if pct >= th && !fired[th] {
			crossed = append(crossed, th)
		}
	}
	return crossed
}
