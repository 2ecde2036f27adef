package separator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

const demucsModel = "htdemucs"

// Demucs drives Meta's Demucs (htdemucs model) as a subprocess. Output
// layout is <outDir>/htdemucs/<basename>/vocals.wav. Unlike Spleeter, a
// failed segment degrades to rendered silence so one bad stretch does
// not sink a long input; only an all-silent result counts as failure.
type Demucs struct {
	Toolkit *media.Toolkit
	Runner  media.Runner
	Python  string
	Workers int
	UseGPU  bool
}

func NewDemucs(tk *media.Toolkit, workers int, useGPU bool) *Demucs {
	return &Demucs{Toolkit: tk, Runner: media.ExecRunner{}, Python: "python", Workers: workers, UseGPU: useGPU}
}

func (d *Demucs) Name() string { return "Demucs" }

// Separate isolates the vocal stem with segmentation for long inputs.
func (d *Demucs) Separate(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error) {
	duration, err := d.Toolkit.Duration(ctx, wavIn)
	if err != nil {
		return "", err
	}

	segs := PlanSegments(duration)
	if len(segs) == 1 {
		progress(5, "Demucs running")
		vocal, err := d.runOne(ctx, wavIn, outDir, progress)
		if err != nil {
			return "", err
		}
		progress(100, "Demucs complete")
		return vocal, nil
	}

	progress(0, fmt.Sprintf("Splitting audio into %d segments for Demucs", len(segs)))
	var anyReal atomic.Bool
	joined, err := runSegmented(ctx, d.Toolkit, d.Name(), wavIn, outDir, segs, d.Workers, progress,
		func(ctx context.Context, seg Segment, segmentWAV string) (string, error) {
			vocal, err := d.runOne(ctx, segmentWAV, outDir, progress)
			if err == nil {
				anyReal.Store(true)
				return vocal, nil
			}
			if ctx.Err() != nil {
				return "", err
			}
			// Keep the timeline intact with a silent stand-in.
			log.Printf("Demucs failed for segment %d, substituting silence: %v", seg.Index, err)
			fallback := filepath.Join(outDir, demucsModel, fmt.Sprintf("silence_%03d.wav", seg.Index))
			if mkErr := os.MkdirAll(filepath.Dir(fallback), 0o755); mkErr != nil {
				return "", mkErr
			}
			if sErr := d.Toolkit.RenderSilence(ctx, segmentWAV, fallback); sErr != nil {
				return "", err
			}
			return fallback, nil
		})
	if err != nil {
		return "", err
	}
	if !anyReal.Load() {
		return "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   d.Name(),
			Message: "no segment produced real vocals",
		}
	}
	return joined, nil
}

// runOne processes a single WAV, retrying once on CPU if the GPU run
// fails to initialize.
func (d *Demucs) runOne(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error) {
	device := "cpu"
	if d.UseGPU {
		device = "cuda"
	}

	clog, err := d.run(ctx, wavIn, outDir, device)
	if err != nil && device == "cuda" && ctx.Err() == nil {
		progress(0, "Demucs GPU init failed, falling back to CPU")
		clog, err = d.run(ctx, wavIn, outDir, "cpu")
	}
	if err != nil {
		return "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   d.Name(),
			Message: "demucs subprocess failed",
			Cmd:     clog,
			Err:     err,
		}
	}

	base := strings.TrimSuffix(filepath.Base(wavIn), filepath.Ext(wavIn))
	vocal := filepath.Join(outDir, demucsModel, base, "vocals.wav")
	if !media.FileNonEmpty(vocal) {
		return "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   d.Name(),
			Message: fmt.Sprintf("vocals not found or empty at %s", vocal),
			Cmd:     clog,
		}
	}
	return vocal, nil
}

func (d *Demucs) run(ctx context.Context, wavIn, outDir, device string) (types.CommandLog, error) {
	return d.Runner.Run(ctx, d.Python,
		"-m", "demucs.separate",
		"-n", demucsModel,
		"-d", device,
		"--two-stems", "vocals",
		"-o", outDir,
		wavIn,
	)
}
