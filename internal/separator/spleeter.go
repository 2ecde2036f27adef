package separator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// cpuOnlyEnv hides CUDA devices from TensorFlow, forcing a CPU run.
var cpuOnlyEnv = []string{"CUDA_VISIBLE_DEVICES=-1"}

// Spleeter drives Deezer's Spleeter (2stems model) as a subprocess.
// Output layout is <outDir>/<basename>/vocals.wav. Device selection is
// environment-driven: with GPU preference the process environment is
// left alone so TensorFlow picks up CUDA; a failed GPU run is retried
// once with CUDA devices hidden.
type Spleeter struct {
	Toolkit *media.Toolkit
	Runner  media.Runner
	Python  string // python interpreter, defaults to "python"
	Workers int    // bounded segment parallelism
	UseGPU  bool
}

func NewSpleeter(tk *media.Toolkit, workers int, useGPU bool) *Spleeter {
	return &Spleeter{Toolkit: tk, Runner: media.ExecRunner{}, Python: "python", Workers: workers, UseGPU: useGPU}
}

func (s *Spleeter) Name() string { return "Spleeter" }

// Separate isolates the vocal stem, splitting inputs longer than the
// segment threshold.
func (s *Spleeter) Separate(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error) {
	duration, err := s.Toolkit.Duration(ctx, wavIn)
	if err != nil {
		return "", err
	}

	segs := PlanSegments(duration)
	if len(segs) == 1 {
		progress(5, "Spleeter running")
		vocal, err := s.runOne(ctx, wavIn, outDir, progress)
		if err != nil {
			return "", err
		}
		progress(100, "Spleeter complete")
		return vocal, nil
	}

	progress(0, fmt.Sprintf("Splitting audio into %d segments for Spleeter", len(segs)))
	return runSegmented(ctx, s.Toolkit, s.Name(), wavIn, outDir, segs, s.Workers, progress,
		func(ctx context.Context, seg Segment, segmentWAV string) (string, error) {
			return s.runOne(ctx, segmentWAV, outDir, progress)
		})
}

// runOne processes a single WAV, retrying once on CPU if the GPU run
// fails.
func (s *Spleeter) runOne(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error) {
	env := cpuOnlyEnv
	if s.UseGPU {
		env = nil
	}

	clog, err := s.run(ctx, wavIn, outDir, env)
	if err != nil && s.UseGPU && ctx.Err() == nil {
		progress(0, "Spleeter GPU init failed, falling back to CPU")
		clog, err = s.run(ctx, wavIn, outDir, cpuOnlyEnv)
	}
	if err != nil {
		return "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   s.Name(),
			Message: "spleeter subprocess failed",
			Cmd:     clog,
			Err:     err,
		}
	}

	base := strings.TrimSuffix(filepath.Base(wavIn), filepath.Ext(wavIn))
	vocal := filepath.Join(outDir, base, "vocals.wav")
	if !media.FileNonEmpty(vocal) {
		return "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   s.Name(),
			Message: fmt.Sprintf("vocals not found or empty at %s", vocal),
			Cmd:     clog,
		}
	}
	return vocal, nil
}

func (s *Spleeter) run(ctx context.Context, wavIn, outDir string, env []string) (types.CommandLog, error) {
	return s.Runner.RunEnv(ctx, env, s.Python,
		"-m", "spleeter", "separate",
		"-p", "spleeter:2stems",
		"-o", outDir,
		wavIn,
	)
}
