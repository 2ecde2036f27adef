package align

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip holds decoded PCM as interleaved float64 samples in [-1, 1].
type Clip struct {
	Data       []float64
	Channels   int
	SampleRate int
}

// Frames returns the per-channel sample count.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Data) / c.Channels
}

// Mono returns a channel-averaged copy for correlation.
func (c *Clip) Mono() []float64 {
	if c.Channels == 1 {
		out := make([]float64, len(c.Data))
		copy(out, c.Data)
		return out
	}
	frames := c.Frames()
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Data[i*c.Channels+ch]
		}
		out[i] = sum / float64(c.Channels)
	}
	return out
}

// LoadWAV decodes a PCM WAV file into a Clip.
func LoadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, fmt.Errorf("decode %s: missing format", path)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (bitDepth - 1))

	clip := &Clip{
		Data:       make([]float64, len(buf.Data)),
		Channels:   buf.Format.NumChannels,
		SampleRate: buf.Format.SampleRate,
	}
	for i, v := range buf.Data {
		clip.Data[i] = float64(v) / scale
	}
	return clip, nil
}

// SaveWAV writes a Clip as 16-bit PCM.
func SaveWAV(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, clip.SampleRate, 16, clip.Channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: clip.Channels, SampleRate: clip.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(clip.Data)),
	}
	for i, v := range clip.Data {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		buf.Data[i] = int(v * 32767)
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
