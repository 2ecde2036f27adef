package pipeline

import "testing"

func TestBandMap(t *testing.T) {
	b := Band{10, 75}

	if got := b.Map(0); got != 10 {
		t.Errorf("Map(0) = %g, want 10", got)
	}
	if got := b.Map(100); got != 75 {
		t.Errorf("Map(100) = %g, want 75", got)
	}
	if got := b.Map(50); got != 42.5 {
		t.Errorf("Map(50) = %g, want 42.5", got)
	}
	// Out-of-range driver values are clamped into the band.
	if got := b.Map(-5); got != 10 {
		t.Errorf("Map(-5) = %g, want 10", got)
	}
	if got := b.Map(250); got != 75 {
		t.Errorf("Map(250) = %g, want 75", got)
	}
}

func TestSeparateBandsBothDrivers(t *testing.T) {
	spleeter, demucs := separateBands(true)

	if spleeter.Lo != budgetExtractEnd || demucs.Hi != budgetSeparateEnd {
		t.Errorf("bands do not cover the budget: %+v %+v", spleeter, demucs)
	}
	if spleeter.Hi != demucs.Lo {
		t.Errorf("half-bands must be contiguous: %+v %+v", spleeter, demucs)
	}
	mid := budgetExtractEnd + (budgetSeparateEnd-budgetExtractEnd)/2
	if spleeter.Hi != mid {
		t.Errorf("split point = %g, want %g", spleeter.Hi, mid)
	}
}

func TestSeparateBandsSingleDriver(t *testing.T) {
	spleeter, demucs := separateBands(false)

	if spleeter != demucs {
		t.Errorf("single driver must own the full band: %+v %+v", spleeter, demucs)
	}
	if spleeter.Lo != budgetExtractEnd || spleeter.Hi != budgetSeparateEnd {
		t.Errorf("full band = %+v", spleeter)
	}
}

func TestPhaseBudgetsAreOrdered(t *testing.T) {
	budgets := []float64{
		budgetProbeEnd, budgetExtractEnd, budgetSeparateEnd,
		budgetAlignEnd, budgetMixEnd, budgetNormalizeEnd, budgetRemuxEnd,
	}
	for i := 1; i < len(budgets); i++ {
		if budgets[i] <= budgets[i-1] {
			t.Fatalf("budgets out of order at %d: %g <= %g", i, budgets[i], budgets[i-1])
		}
	}
	if budgetRemuxEnd >= 100 {
		t.Error("remux must leave room for the verify step")
	}
}
