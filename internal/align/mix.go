package align

// Mix blends two aligned clips with equal weight and a hard limiter at
// 0 dBFS. The result keeps the inputs' channel count and sample rate;
// its duration is the longer of the two.
func Mix(a, b *Clip) *Clip {
	frames := a.Frames()
	if bf := b.Frames(); bf > frames {
		frames = bf
	}

	out := &Clip{
		Data:       make([]float64, frames*a.Channels),
		Channels:   a.Channels,
		SampleRate: a.SampleRate,
	}
	for i := range out.Data {
		var v float64
		if i < len(a.Data) {
			v += 0.5 * a.Data[i]
		}
		if i < len(b.Data) {
			v += 0.5 * b.Data[i]
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out.Data[i] = v
	}
	return out
}
