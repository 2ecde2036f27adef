// Package pipeline runs one separation job end to end: probe, WAV
// extraction, the two separators in parallel, alignment, mixing,
// loudness normalization and the final remux. It owns the job's temp
// directory and honors cancellation at every phase boundary.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/EdisAganovic/musicremoval/internal/align"
	"github.com/EdisAganovic/musicremoval/internal/config"
	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/separator"
	"github.com/EdisAganovic/musicremoval/internal/storage"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// Options tweak one separation run.
type Options struct {
	Model         string  // spleeter | demucs | both
	DurationLimit float64 // process only the first N seconds, 0 = all
	KeepTemp      bool
}

// Pipeline holds the collaborators shared by all separation runs.
type Pipeline struct {
	Cfg      *config.Config
	Presets  *config.PresetStore
	Toolkit  *media.Toolkit
	Spleeter separator.Driver
	Demucs   separator.Driver
	Jobs     *jobs.Manager
	Library  *storage.Library
	Drive    *storage.DriveClient // nil when backup is disabled
}

// driverResult is the outcome of one separator goroutine.
type driverResult struct {
	name  string
	vocal string
	err   error
}

// Run executes the full separation for a job. The context carries the
// job's cancel signal; subprocesses inherit it and are terminated with
// a graceful signal plus a five second grace period.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job, opts Options) error {
	if _, err := os.Stat(job.Input); err != nil {
		return types.NewError(types.KindInvalidInput, "input file not found: %s", job.Input)
	}

	// Phase: probe.
	p.Jobs.Progress(job.ID, 0, "Probing input")
	probe, err := p.Toolkit.Probe(ctx, job.Input)
	if err != nil {
		return err
	}
	if len(probe.AudioTracks) == 0 {
		return types.NewError(types.KindInvalidInput, "no audio tracks in %s", job.Input)
	}
	p.Jobs.SetMetadata(job.ID, probe)
	p.Jobs.Progress(job.ID, budgetProbeEnd, "Probe complete")
	if err := ctx.Err(); err != nil {
		return err
	}

	// The job owns one temp directory for its whole life; it is removed
	// on any terminal transition unless the debug flag keeps it.
	tempDir := filepath.Join(p.Cfg.Storage.TempDir, job.ID)
	for _, sub := range []string{"extract", "spleeter", "demucs", "mix"} {
		if err := os.MkdirAll(filepath.Join(tempDir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create temp directory: %w", err)
		}
	}
	defer func() {
		if opts.KeepTemp || p.Cfg.Debug.KeepTemp {
			log.Printf("Keeping temp directory for job %s: %s", job.ID, tempDir)
			return
		}
		if err := os.RemoveAll(tempDir); err != nil {
			log.Printf("Failed to remove temp directory %s: %v", tempDir, err)
		}
	}()

	// Phase: extract WAV at 44.1 kHz stereo.
	p.Jobs.Progress(job.ID, budgetProbeEnd, "Extracting audio")
	trackIndex := -1
	if probe.IsVideo {
		trackIndex = media.SelectAudioTrack(probe, p.Cfg.Probe.LanguagePriority)
	}
	sourceWAV := filepath.Join(tempDir, "extract", "source.wav")
	if err := p.Toolkit.ExtractWAV(ctx, job.Input, sourceWAV, trackIndex, opts.DurationLimit); err != nil {
		return err
	}
	p.Jobs.Progress(job.ID, budgetExtractEnd, "Audio extracted")
	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase: separate. Both drivers run concurrently, each reporting
	// into its own half of the shared budget.
	vocalA, vocalB, err := p.separate(ctx, job, tempDir, sourceWAV, opts.Model)
	if err != nil {
		return err
	}
	p.Jobs.Progress(job.ID, budgetSeparateEnd, "Separation complete")
	if err := ctx.Err(); err != nil {
		return err
	}

	mixDir := filepath.Join(tempDir, "mix")
	mixedWAV, err := p.alignAndMix(ctx, job, vocalA, vocalB, mixDir)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase: loudness normalize (two-pass EBU R128).
	p.Jobs.Progress(job.ID, budgetMixEnd, "Normalizing loudness")
	normalizedWAV := filepath.Join(mixDir, "normalized.wav")
	if err := p.Toolkit.LoudnormTwoPass(ctx, mixedWAV, normalizedWAV); err != nil {
		return err
	}
	p.Jobs.Progress(job.ID, budgetNormalizeEnd, "Loudness normalized")
	if err := ctx.Err(); err != nil {
		return err
	}

	// Reconcile processed duration with the extracted source before the
	// remux so the vocal track lines up with the video.
	finalVocal, err := p.reconcileDuration(ctx, sourceWAV, normalizedWAV, mixDir)
	if err != nil {
		return err
	}

	// Phase: remux with the original video stream per the active preset.
	p.Jobs.Progress(job.ID, budgetNormalizeEnd, "Creating final output")
	outputPath, err := p.remux(ctx, job.Input, finalVocal, probe.IsVideo)
	if err != nil {
		return err
	}
	p.Jobs.Progress(job.ID, budgetRemuxEnd, "Verifying output")

	// Phase: verify and publish.
	if !media.FileNonEmpty(outputPath) {
		return types.NewError(types.KindRemuxFailed, "final output %s is missing or empty", outputPath)
	}
	p.Jobs.Complete(job.ID, []string{outputPath})

	if p.Library != nil {
		if err := p.Library.Save(storage.LibraryEntry{
			TaskID:      job.ID,
			Kind:        types.KindSeparate,
			ResultFiles: []string{outputPath},
			Metadata:    probe,
		}); err != nil {
			log.Printf("Failed to save library entry for job %s: %v", job.ID, err)
		}
	}
	if p.Drive != nil {
		go p.Drive.UploadWithRetry(outputPath)
	}
	return nil
}

// separate runs the requested drivers. With model=both, one failing
// driver degrades to a warning as long as the other produced vocals.
// Returns one or two vocal paths; the second is empty on a
// single-driver run.
func (p *Pipeline) separate(ctx context.Context, job *jobs.Job, tempDir, sourceWAV, model string) (string, string, error) {
	runBoth := model == types.ModelBoth
	spleeterBand, demucsBand := separateBands(runBoth)

	// Progress updates from concurrent drivers serialize through the
	// job manager, which also enforces monotonicity.
	progressFor := func(band Band) separator.ProgressFunc {
		return func(pct float64, step string) {
			p.Jobs.Progress(job.ID, band.Map(pct), step)
		}
	}

	type run struct {
		driver separator.Driver
		outDir string
		band   Band
	}
	var runs []run
	switch model {
	case types.ModelSpleeter:
		runs = []run{{p.Spleeter, filepath.Join(tempDir, "spleeter"), spleeterBand}}
	case types.ModelDemucs:
		runs = []run{{p.Demucs, filepath.Join(tempDir, "demucs"), demucsBand}}
	default:
		runs = []run{
			{p.Spleeter, filepath.Join(tempDir, "spleeter"), spleeterBand},
			{p.Demucs, filepath.Join(tempDir, "demucs"), demucsBand},
		}
	}

	results := make([]driverResult, len(runs))
	var wg sync.WaitGroup
	for i, r := range runs {
		wg.Add(1)
		go func(i int, r run) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = driverResult{name: r.driver.Name(), err: fmt.Errorf("driver panic: %v", rec)}
				}
			}()
			vocal, err := r.driver.Separate(ctx, sourceWAV, r.outDir, progressFor(r.band))
			results[i] = driverResult{name: r.driver.Name(), vocal: vocal, err: err}
		}(i, r)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	var survivors []driverResult
	for _, res := range results {
		if res.err == nil {
			survivors = append(survivors, res)
		}
	}

	switch {
	case len(survivors) == 0:
		return "", "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   "both",
			Message: "no separator produced vocals",
			Err:     results[0].err,
		}
	case len(survivors) == len(results):
		if len(results) == 1 {
			return survivors[0].vocal, "", nil
		}
		return survivors[0].vocal, survivors[1].vocal, nil
	default:
		// Exactly one of two failed: continue mono, skip align/mix.
		var failed driverResult
		for _, res := range results {
			if res.err != nil {
				failed = res
			}
		}
		log.Printf("%s failed for job %s: %v", failed.name, job.ID, failed.err)
		p.Jobs.Progress(job.ID, budgetSeparateEnd,
			fmt.Sprintf("%s failed, continuing with %s", failed.name, survivors[0].name))
		return survivors[0].vocal, "", nil
	}
}

// alignAndMix cross-correlates the two stems and blends them. With a
// single stem the phase is the identity.
func (p *Pipeline) alignAndMix(ctx context.Context, job *jobs.Job, vocalA, vocalB, mixDir string) (string, error) {
	if vocalB == "" {
		p.Jobs.Progress(job.ID, budgetMixEnd, "Single vocal stream, skipping alignment")
		return vocalA, nil
	}

	// Phase: align.
	p.Jobs.Progress(job.ID, budgetSeparateEnd, "Aligning vocal tracks")
	clipA, err := align.LoadWAV(vocalA)
	if err != nil {
		return "", types.NewError(types.KindMixFailed, "failed to load %s: %v", vocalA, err)
	}
	clipB, err := align.LoadWAV(vocalB)
	if err != nil {
		return "", types.NewError(types.KindMixFailed, "failed to load %s: %v", vocalB, err)
	}

	res := align.EstimateLag(clipA, clipB)
	if res.Forced {
		// Non-fatal: the estimate was discarded and the streams mix at
		// zero offset. Surfaced on the status feed like the
		// separator-degrade warning.
		warn := &types.PipelineError{
			Kind:    types.KindAlignmentLowConfidence,
			Message: fmt.Sprintf("weak correlation (confidence %.2f), skipping lag correction", res.Confidence),
		}
		log.Printf("Job %s: %v", job.ID, warn)
		p.Jobs.Progress(job.ID, budgetSeparateEnd, "Alignment confidence low, mixing without lag correction")
	} else {
		log.Printf("Aligning job %s: lag %.2f ms (%d samples, confidence %.2f)",
			job.ID, res.LagSeconds*1000, res.LagSamples, res.Confidence)
	}
	align.Apply(clipA, clipB, res.LagSamples)
	p.Jobs.Progress(job.ID, budgetAlignEnd, "Vocal tracks aligned")
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Phase: mix.
	mixed := align.Mix(clipA, clipB)
	mixedPath := filepath.Join(mixDir, "mixed.wav")
	if err := align.SaveWAV(mixedPath, mixed); err != nil {
		return "", types.NewError(types.KindMixFailed, "failed to write mixed vocals: %v", err)
	}
	p.Jobs.Progress(job.ID, budgetMixEnd, "Vocal tracks mixed")
	return mixedPath, nil
}

// reconcileDuration pads or trims the processed audio when it drifted
// from the source length.
func (p *Pipeline) reconcileDuration(ctx context.Context, sourceWAV, processed, mixDir string) (string, error) {
	sourceDur, err := p.Toolkit.Duration(ctx, sourceWAV)
	if err != nil {
		return processed, nil // verification only; keep going
	}
	processedDur, err := p.Toolkit.Duration(ctx, processed)
	if err != nil {
		return processed, nil
	}

	diff := sourceDur - processedDur
	if math.Abs(diff) <= 0.001 {
		return processed, nil
	}

	adjusted := filepath.Join(mixDir, "adjusted.wav")
	if err := p.Toolkit.AdjustDuration(ctx, processed, adjusted, sourceDur, diff); err != nil {
		return "", err
	}
	return adjusted, nil
}

// remux produces the final library file named nomusic-<stem>.<ext> in
// the output directory.
func (p *Pipeline) remux(ctx context.Context, input, vocals string, isVideo bool) (string, error) {
	if err := os.MkdirAll(p.Cfg.Storage.OutputDir, 0o755); err != nil {
		return "", err
	}

	preset := p.Presets.Current()
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	var outputPath string
	if isVideo {
		outputPath = filepath.Join(p.Cfg.Storage.OutputDir,
			fmt.Sprintf("nomusic-%s.%s", stem, preset.Output.Format))
	} else {
		outputPath = filepath.Join(p.Cfg.Storage.OutputDir,
			fmt.Sprintf("nomusic-%s%s", stem, media.AudioOutputExt(input)))
	}

	if err := p.Toolkit.Remux(ctx, input, vocals, outputPath, isVideo, preset); err != nil {
		return "", err
	}
	return outputPath, nil
}
