// Package align estimates the lag between two independently produced
// vocal stems via FFT cross-correlation and blends them into a single
// track. The earlier stream is left-padded with silence; audio is never
// truncated.
package align

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// MaxLagSeconds bounds the correlation search window.
	MaxLagSeconds = 2.0
	// WindowSeconds is the analysis window taken from each stream.
	WindowSeconds = 30.0
	// SilenceTrimSeconds caps how much leading silence is skipped before
	// the window. The same trim is applied to both streams so genuine
	// offset survives.
	SilenceTrimSeconds = 5.0
	// silenceFloorDBFS is the leading-silence threshold.
	silenceFloorDBFS = -50.0
	// ConfidenceFloor rejects weak correlation peaks; below it the lag
	// is forced to zero.
	ConfidenceFloor = 0.2
	// envelopeWindowSeconds smooths the rectified signal before
	// correlating, which is far more robust than raw samples.
	envelopeWindowSeconds = 0.05
)

// Result describes one lag estimation. A positive LagSamples means A is
// delayed relative to B (B starts earlier).
type Result struct {
	LagSamples int
	LagSeconds float64
	Confidence float64
	SampleRate int
	// Forced is set when the estimate was discarded for exceeding the
	// lag bound or falling under the confidence floor.
	Forced bool
}

// EstimateLag computes the cross-correlation lag between two clips of
// equal sample rate. Mismatched rates (both stems come out of the same
// 44.1 kHz extraction, so this should not happen) skip the correction.
func EstimateLag(a, b *Clip) Result {
	sr := a.SampleRate
	if b.SampleRate != sr {
		return Result{SampleRate: sr, Forced: true}
	}
	monoA := a.Mono()
	monoB := b.Mono()

	// Symmetric leading-silence trim: skip the shared silent lead-in,
	// bounded so a real offset larger than the bound is preserved.
	trim := leadingSilence(monoA, sr)
	if t := leadingSilence(monoB, sr); t < trim {
		trim = t
	}
	if max := int(SilenceTrimSeconds * float64(sr)); trim > max {
		trim = max
	}
	monoA = monoA[trim:]
	monoB = monoB[trim:]

	window := int(WindowSeconds * float64(sr))
	if len(monoA) < window {
		window = len(monoA)
	}
	if len(monoB) < window {
		window = len(monoB)
	}
	if window == 0 {
		return Result{SampleRate: sr, Forced: true}
	}

	envA := envelope(monoA[:window], sr)
	envB := envelope(monoB[:window], sr)

	corr := crossCorrelate(envA, envB)
	center := len(envB) - 1

	maxLag := int(MaxLagSeconds * float64(sr))
	lo := center - maxLag
	if lo < 0 {
		lo = 0
	}
	hi := center + maxLag
	if hi > len(corr)-1 {
		hi = len(corr) - 1
	}

	peakIdx, peak, meanAbs := peakStats(corr, lo, hi)
	lag := peakIdx - center

	// Confidence derives from the peak-to-mean ratio of the windowed
	// correlation, mapped so that the 0.2 floor corresponds to a peak
	// about 1.8x the mean (the classic "peak twice the mean" sanity
	// gate) and a clean self-correlation saturates at 1.
	confidence := 0.0
	if peak > 0 && meanAbs > 0 {
		confidence = clamp((peak/meanAbs-1)/4, 0, 1)
	}

	res := Result{
		LagSamples: lag,
		LagSeconds: float64(lag) / float64(sr),
		Confidence: confidence,
		SampleRate: sr,
	}
	if confidence < ConfidenceFloor || lag < -maxLag || lag > maxLag {
		res.LagSamples = 0
		res.LagSeconds = 0
		res.Forced = true
	}
	return res
}

// leadingSilence counts samples before the signal first exceeds the
// silence floor.
func leadingSilence(mono []float64, sr int) int {
	thresh := math.Pow(10, silenceFloorDBFS/20)
	for i, v := range mono {
		if math.Abs(v) > thresh {
			return i
		}
	}
	return len(mono)
}

// envelope rectifies and smooths the signal, then normalizes it to zero
// mean and unit variance.
func envelope(x []float64, sr int) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}

	win := int(envelopeWindowSeconds * float64(sr))
	if win > 1 && win < len(out) {
		smoothed := make([]float64, len(out))
		sum := 0.0
		for i := 0; i < len(out); i++ {
			sum += out[i]
			if i >= win {
				sum -= out[i-win]
			}
			n := win
			if i+1 < win {
				n = i + 1
			}
			smoothed[i] = sum / float64(n)
		}
		out = smoothed
	}

	mean := 0.0
	for _, v := range out {
		mean += v
	}
	mean /= float64(len(out))
	variance := 0.0
	for i := range out {
		out[i] -= mean
		variance += out[i] * out[i]
	}
	std := math.Sqrt(variance / float64(len(out)))
	if std > 0 {
		for i := range out {
			out[i] /= std
		}
	}
	return out
}

// crossCorrelate returns the full cross-correlation of a against b
// (length len(a)+len(b)-1, zero lag at index len(b)-1), computed as an
// FFT convolution of a with b reversed.
func crossCorrelate(a, b []float64) []float64 {
	outLen := len(a) + len(b) - 1
	n := nextPow2(outLen)

	pa := make([]float64, n)
	copy(pa, a)
	pb := make([]float64, n)
	for i, v := range b {
		pb[len(b)-1-i] = v
	}

	fft := fourier.NewFFT(n)
	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range ca {
		ca[i] *= cb[i]
	}
	full := fft.Sequence(nil, ca)

	out := make([]float64, outLen)
	scale := 1 / float64(n)
	for i := range out {
		out[i] = full[i] * scale
	}
	return out
}

// peakStats finds the strongest absolute peak and the mean absolute
// value over [lo, hi].
func peakStats(corr []float64, lo, hi int) (peakIdx int, peak, meanAbs float64) {
	peakIdx = lo
	for i := lo; i <= hi; i++ {
		v := math.Abs(corr[i])
		meanAbs += v
		if v > peak {
			peak = v
			peakIdx = i
		}
	}
	meanAbs /= float64(hi - lo + 1)
	return peakIdx, peak, meanAbs
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// Apply pads the earlier stream with leading silence so both clips line
// up, then tail-pads the shorter one so lengths match. The inputs are
// modified in place.
func Apply(a, b *Clip, lagSamples int) {
	if lagSamples > 0 {
		// A is delayed; B starts earlier and gets the leading pad.
		padStart(b, lagSamples)
	} else if lagSamples < 0 {
		padStart(a, -lagSamples)
	}

	frames := a.Frames()
	if bf := b.Frames(); bf > frames {
		frames = bf
	}
	padEnd(a, frames-a.Frames())
	padEnd(b, frames-b.Frames())
}

func padStart(c *Clip, frames int) {
	pad := make([]float64, frames*c.Channels)
	c.Data = append(pad, c.Data...)
}

func padEnd(c *Clip, frames int) {
	if frames <= 0 {
		return
	}
	c.Data = append(c.Data, make([]float64, frames*c.Channels)...)
}
