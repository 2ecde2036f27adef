package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/EdisAganovic/musicremoval/internal/config"
	"github.com/EdisAganovic/musicremoval/internal/tools"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// Separators operate at 44.1 kHz stereo; extraction resamples to match.
const (
	WorkSampleRate = 44100
	WorkChannels   = 2
)

// Toolkit wraps every ffmpeg/ffprobe transform used by the pipeline.
// All invocations go through the injected Runner so tests never spawn
// real processes.
type Toolkit struct {
	locator *tools.Locator
	runner  Runner
}

// NewToolkit builds the production toolkit.
func NewToolkit(locator *tools.Locator) *Toolkit {
	return &Toolkit{locator: locator, runner: ExecRunner{}}
}

// NewToolkitWithRunner is used by tests to inject a fake runner.
func NewToolkitWithRunner(locator *tools.Locator, runner Runner) *Toolkit {
	return &Toolkit{locator: locator, runner: runner}
}

func (t *Toolkit) ffmpeg(ctx context.Context) (string, error) {
	return t.locator.Locate(ctx, tools.FFmpeg)
}

// ExtractWAV decodes the input to 44.1 kHz stereo PCM. trackIndex maps a
// specific audio stream (-1 means default), limitSeconds truncates the
// extraction (0 means full length).
func (t *Toolkit) ExtractWAV(ctx context.Context, input, output string, trackIndex int, limitSeconds float64) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}

	args := []string{"-y", "-loglevel", "error", "-i", input}
	if limitSeconds > 0 {
		args = append(args, "-t", fmt.Sprintf("%g", limitSeconds))
	}
	if trackIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("0:%d", trackIndex))
	}
	args = append(args,
		"-vn",
		"-ac", fmt.Sprint(WorkChannels),
		"-ar", fmt.Sprint(WorkSampleRate),
		"-c:a", "pcm_s16le",
		output,
	)

	clog, err := t.runner.Run(ctx, ffmpeg, args...)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindExtractFailed,
			Message: fmt.Sprintf("audio extraction failed for %s", input),
			Cmd:     clog,
			Err:     err,
		}
	}
	if !FileNonEmpty(output) {
		return types.NewError(types.KindExtractFailed, "ffmpeg completed but %s is missing or empty", output)
	}
	return nil
}

// CutSegment copies out [start, start+duration) of a WAV file.
func (t *Toolkit) CutSegment(ctx context.Context, input, output string, start, duration float64) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}
	clog, err := t.runner.Run(ctx, ffmpeg,
		"-y", "-loglevel", "error",
		"-i", input,
		"-ss", fmt.Sprintf("%g", start),
		"-t", fmt.Sprintf("%g", duration),
		output,
	)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindExtractFailed,
			Message: fmt.Sprintf("failed to cut segment at %gs from %s", start, input),
			Cmd:     clog,
			Err:     err,
		}
	}
	return nil
}

// ConcatCopy joins files with the demuxer concat protocol without
// re-encoding. Order follows the input slice.
func (t *Toolkit) ConcatCopy(ctx context.Context, inputs []string, listDir, output string) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}

	listPath := filepath.Join(listDir, "concat_list.txt")
	var b strings.Builder
	for _, p := range inputs {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return err
	}

	clog, err := t.runner.Run(ctx, ffmpeg,
		"-y", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindExtractFailed,
			Message: "failed to join segments",
			Cmd:     clog,
			Err:     err,
		}
	}
	return nil
}

// RenderSilence writes a silent copy of the input, preserving its
// duration and layout. Used when a Demucs segment fails.
func (t *Toolkit) RenderSilence(ctx context.Context, input, output string) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}
	clog, err := t.runner.Run(ctx, ffmpeg,
		"-y", "-loglevel", "error",
		"-i", input,
		"-af", "volume=0",
		output,
	)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Message: "failed to render silence fallback",
			Cmd:     clog,
			Err:     err,
		}
	}
	return nil
}

// loudnormStats is the measurement JSON printed by the loudnorm filter.
type loudnormStats struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
	TargetOff   string `json:"target_offset"`
}

const loudnormTarget = "I=-23:TP=-2:LRA=7"

// LoudnormTwoPass applies EBU R128 normalization: a measurement pass
// followed by a linear correction pass fed with the measured values.
func (t *Toolkit) LoudnormTwoPass(ctx context.Context, input, output string) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}

	_, clog, err := t.runner.RunOutput(ctx, ffmpeg,
		"-y", "-i", input,
		"-af", "loudnorm="+loudnormTarget+":print_format=json",
		"-f", "null", "-",
	)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindNormalizeFailed,
			Message: "loudnorm measurement pass failed",
			Cmd:     clog,
			Err:     err,
		}
	}

	stats, perr := parseLoudnormStats(clog.StderrTail)
	filter := "loudnorm=" + loudnormTarget
	if perr == nil {
		filter = fmt.Sprintf(
			"loudnorm=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
			loudnormTarget, stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh, stats.TargetOff,
		)
	}

	clog, err = t.runner.Run(ctx, ffmpeg,
		"-y", "-loglevel", "error",
		"-i", input,
		"-af", filter,
		"-ar", fmt.Sprint(WorkSampleRate),
		"-c:a", "pcm_s16le",
		output,
	)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindNormalizeFailed,
			Message: "loudnorm correction pass failed",
			Cmd:     clog,
			Err:     err,
		}
	}
	return nil
}

// parseLoudnormStats extracts the trailing JSON block loudnorm prints on
// stderr during the measurement pass.
func parseLoudnormStats(stderr string) (*loudnormStats, error) {
	start := strings.LastIndex(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON block in loudnorm output")
	}
	var stats loudnormStats
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &stats); err != nil {
		return nil, err
	}
	if stats.InputI == "" {
		return nil, fmt.Errorf("incomplete loudnorm stats")
	}
	return &stats, nil
}

// AdjustDuration reconciles the processed audio with the source length:
// shorter audio gets leading silence (adelay), longer audio is trimmed.
// diff is source minus processed, in seconds.
func (t *Toolkit) AdjustDuration(ctx context.Context, input, output string, sourceDuration, diff float64) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}

	args := []string{"-y", "-loglevel", "error", "-i", input}
	if diff > 0 {
		delayMS := int(diff * 1000)
		args = append(args, "-af", fmt.Sprintf("adelay=%d|%d", delayMS, delayMS))
	} else {
		args = append(args, "-t", fmt.Sprintf("%g", sourceDuration))
	}
	args = append(args, "-c:a", "pcm_s16le", output)

	clog, err := t.runner.Run(ctx, ffmpeg, args...)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindMixFailed,
			Message: "failed to adjust processed audio duration",
			Cmd:     clog,
			Err:     err,
		}
	}
	return nil
}

// Remux combines the processed vocal track with the original input. For
// video sources the video stream is copied or re-encoded per the preset;
// audio-only sources produce an audio-only file whose container follows
// the extension of output. The preset's output format is not applied to
// audio-only sources.
func (t *Toolkit) Remux(ctx context.Context, original, vocals, output string, isVideo bool, preset config.Preset) error {
	ffmpeg, err := t.ffmpeg(ctx)
	if err != nil {
		return err
	}

	var args []string
	if isVideo {
		args = []string{
			"-y", "-loglevel", "error",
			"-i", original,
			"-i", vocals,
			"-c:v", preset.Video.Codec,
		}
		if preset.Video.Bitrate != nil {
			args = append(args, "-b:v", *preset.Video.Bitrate)
		}
		args = append(args, "-c:a", preset.Audio.Codec)
		if preset.Audio.Bitrate != nil {
			args = append(args, "-b:a", *preset.Audio.Bitrate)
		}
		args = append(args,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-shortest",
			"-f", preset.Output.Format,
			output,
		)
	} else {
		args = []string{"-y", "-loglevel", "error", "-i", vocals}
		switch strings.ToLower(filepath.Ext(output)) {
		case ".flac":
			args = append(args, "-c:a", "flac")
		case ".wav":
			args = append(args, "-c:a", "pcm_s16le")
		default:
			args = append(args, "-c:a", preset.Audio.Codec)
			if preset.Audio.Bitrate != nil {
				args = append(args, "-b:a", *preset.Audio.Bitrate)
			}
		}
		args = append(args, output)
	}

	clog, err := t.runner.Run(ctx, ffmpeg, args...)
	if err != nil {
		return &types.PipelineError{
			Kind:    types.KindRemuxFailed,
			Message: fmt.Sprintf("failed to create final output %s", output),
			Cmd:     clog,
			Err:     err,
		}
	}
	if !FileNonEmpty(output) {
		return types.NewError(types.KindRemuxFailed, "remux completed but %s is missing or empty", output)
	}
	return nil
}

// Supported media extensions
var (
	VideoExtensions = []string{".mp4", ".mkv", ".mov", ".avi", ".flv", ".webm", ".wmv"}
	AudioExtensions = []string{".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a", ".wma"}
)

// IsAudioFile checks the extension against the supported audio formats.
func IsAudioFile(path string) bool {
	return hasExt(path, AudioExtensions)
}

// IsVideoFile checks the extension against the supported video formats.
func IsVideoFile(path string) bool {
	return hasExt(path, VideoExtensions)
}

// IsMediaFile accepts anything the pipeline can ingest.
func IsMediaFile(path string) bool {
	return IsAudioFile(path) || IsVideoFile(path)
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// AudioOutputExt picks the container for audio-only output, preserving
// lossless source formats.
func AudioOutputExt(input string) string {
	switch strings.ToLower(filepath.Ext(input)) {
	case ".flac":
		return ".flac"
	case ".wav":
		return ".wav"
	case ".m4a":
		return ".m4a"
	default:
		return ".mp3"
	}
}
