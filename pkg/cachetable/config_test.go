package cachetable

import "testing"

func TestComputeWatermarksDefaults(t *testing.T) {
	wm := computeWatermarks(100)
	if wm.low != 100 {
		t.Fatalf("low = %d, want 100", wm.low)
	}
	if wm.lowHysteresis != 110 {
		t.Fatalf("lowHysteresis = %d, want 110", wm.lowHysteresis)
	}
	if wm.highHysteresis != 125 {
		t.Fatalf("highHysteresis = %d, want 125", wm.highHysteresis)
	}
	if wm.high != 150 {
		t.Fatalf("high = %d, want 150", wm.high)
	}
	if wm.reservedUnreservable != 25 {
		t.Fatalf("reservedUnreservable = %d, want 25", wm.reservedUnreservable)
	}
}

func TestComputeWatermarksClampsGap(t *testing.T) {
	wm := computeWatermarks(10 << 30) // 10 GiB: naive 1.5x would be 5 GiB above low
	chain := []int64{wm.low, wm.lowHysteresis, wm.highHysteresis, wm.high}
	for i := 1; i < len(chain); i++ {
		if chain[i]-chain[i-1] > maxWatermarkGap {
			t.Fatalf("watermark gap %d->%d = %d, exceeds maxWatermarkGap %d", i-1, i, chain[i]-chain[i-1], maxWatermarkGap)
		}
	}
}

func TestDefaultConfigAppliesSizeLimitFallback(t *testing.T) {
	cfg := defaultConfig(0)
	if cfg.sizeLimit != defaultSizeLimit {
		t.Fatalf("sizeLimit = %d, want default %d", cfg.sizeLimit, defaultSizeLimit)
	}
}

func TestWithCleanerIterationsZeroDisablesCleaner(t *testing.T) {
	cfg := defaultConfig(0)
	applyOptions(cfg, []Option{WithCleanerIterations(0)})
	if cfg.cleanerIterations != 0 {
		t.Fatalf("cleanerIterations = %d, want 0", cfg.cleanerIterations)
	}
}
