package pipeline

// Phase progress budgets for a separation job, per the status contract.
const (
	budgetProbeEnd     = 3.0
	budgetExtractEnd   = 10.0
	budgetSeparateEnd  = 75.0
	budgetAlignEnd     = 80.0
	budgetMixEnd       = 85.0
	budgetNormalizeEnd = 92.0
	budgetRemuxEnd     = 99.0
)

// Band maps a driver-local 0..100 progress onto a slice of the shared
// separate budget.
type Band struct {
	Lo, Hi float64
}

// Map converts a local percentage into the global progress scale.
func (b Band) Map(localPct float64) float64 {
	if localPct < 0 {
		localPct = 0
	} else if localPct > 100 {
		localPct = 100
	}
	return b.Lo + (b.Hi-b.Lo)*localPct/100
}

// separateBands splits the separate budget between the active drivers:
// with both running, Spleeter owns the first half-band and Demucs the
// second; a single driver owns the full band.
func separateBands(both bool) (spleeter, demucs Band) {
	if both {
		mid := budgetExtractEnd + (budgetSeparateEnd-budgetExtractEnd)/2
		return Band{budgetExtractEnd, mid}, Band{mid, budgetSeparateEnd}
	}
	full := Band{budgetExtractEnd, budgetSeparateEnd}
	return full, full
}
