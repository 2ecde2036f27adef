package align

import (
	"math"
	"math/rand"
	"testing"
)

const testRate = 44100

// testSignal builds a deterministic voice-like signal: noise bursts with
// an aperiodic random envelope, so the correlation peak is sharp and
// sidelobes stay low. The first stretch is always loud so no leading
// silence is trimmed.
func testSignal(seconds float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * testRate)
	blockLen := testRate / 10 // 100 ms envelope blocks
	out := make([]float64, n)

	level := 1.0
	for i := range out {
		if i > 0 && i%blockLen == 0 {
			level = rng.Float64()
		}
		out[i] = level * (rng.Float64()*2 - 1) * 0.5
	}
	return out
}

func monoClip(data []float64) *Clip {
	return &Clip{Data: data, Channels: 1, SampleRate: testRate}
}

func shifted(data []float64, samples int) []float64 {
	out := make([]float64, len(data)+samples)
	copy(out[samples:], data)
	return out
}

func TestEstimateLagSelf(t *testing.T) {
	sig := testSignal(5, 1)
	res := EstimateLag(monoClip(sig), monoClip(sig))

	if res.LagSamples != 0 {
		t.Errorf("self-alignment lag = %d, want 0", res.LagSamples)
	}
	if res.Confidence < 0.95 {
		t.Errorf("self-alignment confidence = %.3f, want >= 0.95", res.Confidence)
	}
	if res.Forced {
		t.Error("self-alignment must not be forced to zero")
	}
}

func TestEstimateLagKnownOffset(t *testing.T) {
	sig := testSignal(5, 2)
	offset := testRate / 10 // 100 ms

	// B delayed relative to A: A starts earlier, lag is negative.
	a := monoClip(sig)
	b := monoClip(shifted(sig, offset))
	res := EstimateLag(a, b)

	if res.Forced {
		t.Fatalf("estimate unexpectedly forced (confidence %.3f)", res.Confidence)
	}
	if math.Abs(float64(res.LagSamples+offset)) > float64(testRate)/100 {
		t.Errorf("lag = %d samples, want about %d", res.LagSamples, -offset)
	}
}

func TestEstimateLagNoiseIsForcedToZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := make([]float64, 3*testRate)
	b := make([]float64, 3*testRate)
	for i := range a {
		a[i] = rng.Float64()*2 - 1
		b[i] = rng.Float64()*2 - 1
	}

	res := EstimateLag(monoClip(a), monoClip(b))
	if !res.Forced {
		t.Skip("uncorrelated noise produced a confident peak; tolerated")
	}
	if res.LagSamples != 0 {
		t.Errorf("forced result must have zero lag, got %d", res.LagSamples)
	}
}

func TestApplyPadsEarlierStream(t *testing.T) {
	a := monoClip(make([]float64, 1000))
	b := monoClip(make([]float64, 800))

	// Positive lag: A is delayed, B gets the leading pad.
	Apply(a, b, 100)
	if a.Frames() != b.Frames() {
		t.Fatalf("frames differ after Apply: %d vs %d", a.Frames(), b.Frames())
	}
	if b.Frames() != 1000 {
		t.Errorf("aligned length = %d, want 1000", b.Frames())
	}
}

func TestApplyNeverTruncates(t *testing.T) {
	a := monoClip(make([]float64, 500))
	b := monoClip(make([]float64, 2000))

	Apply(a, b, -300)
	if a.Frames() < 800 {
		t.Errorf("A should be padded, got %d frames", a.Frames())
	}
	if b.Frames() != a.Frames() {
		t.Errorf("lengths differ: %d vs %d", a.Frames(), b.Frames())
	}
}

func TestMixEqualWeightAndLimiter(t *testing.T) {
	a := monoClip([]float64{0.5, 1.0, -1.0, 0})
	b := monoClip([]float64{0.5, 1.0, -1.0})

	mixed := Mix(a, b)
	if mixed.Frames() != 4 {
		t.Fatalf("mix duration = %d frames, want max input (4)", mixed.Frames())
	}
	if mixed.Data[0] != 0.5 {
		t.Errorf("equal-weight sum: got %g, want 0.5", mixed.Data[0])
	}
	for i, v := range mixed.Data {
		if v > 1 || v < -1 {
			t.Errorf("sample %d clipped: %g", i, v)
		}
	}
	// Tail of the shorter input contributes silence.
	if mixed.Data[3] != 0 {
		t.Errorf("tail sample = %g, want 0", mixed.Data[3])
	}
}

func TestMonoDownmix(t *testing.T) {
	c := &Clip{Data: []float64{1, 0, 0.5, 0.5}, Channels: 2, SampleRate: testRate}
	mono := c.Mono()
	if len(mono) != 2 {
		t.Fatalf("mono frames = %d, want 2", len(mono))
	}
	if mono[0] != 0.5 || mono[1] != 0.5 {
		t.Errorf("downmix = %v, want [0.5 0.5]", mono)
	}
}

func TestLeadingSilence(t *testing.T) {
	sig := make([]float64, testRate)
	sig[testRate/2] = 0.5
	if got := leadingSilence(sig, testRate); got != testRate/2 {
		t.Errorf("leadingSilence = %d, want %d", got, testRate/2)
	}

	quiet := make([]float64, 100)
	for i := range quiet {
		quiet[i] = 0.001 // below -50 dBFS
	}
	if got := leadingSilence(quiet, testRate); got != 100 {
		t.Errorf("sub-threshold signal should count as silence, got %d", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/clip.wav"

	src := &Clip{
		Data:       []float64{0, 0.25, -0.25, 0.5, -0.5, 1, -1, 0},
		Channels:   2,
		SampleRate: testRate,
	}
	if err := SaveWAV(path, src); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}

	got, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if got.Channels != 2 || got.SampleRate != testRate {
		t.Fatalf("format mismatch: %d ch %d Hz", got.Channels, got.SampleRate)
	}
	if len(got.Data) != len(src.Data) {
		t.Fatalf("sample count = %d, want %d", len(got.Data), len(src.Data))
	}
	for i := range src.Data {
		if math.Abs(got.Data[i]-src.Data[i]) > 1.0/16384 {
			t.Errorf("sample %d = %g, want %g", i, got.Data[i], src.Data[i])
		}
	}
}
