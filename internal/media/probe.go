package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/EdisAganovic/musicremoval/internal/tools"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// ffprobeOutput matches the JSON emitted by `ffprobe -print_format json`.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Tags      struct {
			Language string `json:"language"`
		} `json:"tags"`
	} `json:"streams"`
}

// Probe extracts duration, codecs, resolution and the audio track list
// for a media file.
func (t *Toolkit) Probe(ctx context.Context, path string) (*types.MediaProbe, error) {
	ffprobe, err := t.locator.Locate(ctx, tools.FFprobe)
	if err != nil {
		return nil, err
	}

	stdout, clog, err := t.runner.RunOutput(ctx, ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	if err != nil {
		return nil, &types.PipelineError{
			Kind:    types.KindProbeFailed,
			Message: fmt.Sprintf("ffprobe failed for %s", path),
			Cmd:     clog,
			Err:     err,
		}
	}

	probe, err := parseProbe(stdout)
	if err != nil {
		return nil, &types.PipelineError{
			Kind:    types.KindProbeFailed,
			Message: fmt.Sprintf("malformed ffprobe output for %s: %v", path, err),
			Cmd:     clog,
			Err:     err,
		}
	}
	return probe, nil
}

func parseProbe(stdout string) (*types.MediaProbe, error) {
	var out ffprobeOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, err
	}

	probe := &types.MediaProbe{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
		if err != nil {
			return nil, fmt.Errorf("non-numeric duration %q", out.Format.Duration)
		}
		probe.DurationSeconds = d
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			probe.IsVideo = true
			probe.VideoCodec = s.CodecName
			if s.Width > 0 && s.Height > 0 {
				probe.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			}
		case "audio":
			if probe.AudioCodec == "" {
				probe.AudioCodec = s.CodecName
			}
			lang := s.Tags.Language
			if lang == "" {
				lang = "unknown"
			}
			probe.AudioTracks = append(probe.AudioTracks, types.AudioTrack{
				Index:    s.Index,
				Language: lang,
				Codec:    s.CodecName,
			})
		}
	}
	return probe, nil
}

// Duration is the cheap variant of Probe.
func (t *Toolkit) Duration(ctx context.Context, path string) (float64, error) {
	ffprobe, err := t.locator.Locate(ctx, tools.FFprobe)
	if err != nil {
		return 0, err
	}
	stdout, clog, err := t.runner.RunOutput(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, &types.PipelineError{
			Kind:    types.KindProbeFailed,
			Message: fmt.Sprintf("ffprobe failed to get duration for %s", path),
			Cmd:     clog,
			Err:     err,
		}
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(stdout), 64)
	if err != nil {
		return 0, &types.PipelineError{
			Kind:    types.KindProbeFailed,
			Message: fmt.Sprintf("ffprobe returned non-numeric duration for %s", path),
			Err:     err,
		}
	}
	return d, nil
}

// SelectAudioTrack picks the stream index to extract. The first track
// matching the language priority list wins; otherwise the first audio
// track. Returns -1 when the file has no audio tracks.
func SelectAudioTrack(probe *types.MediaProbe, priority []string) int {
	if len(probe.AudioTracks) == 0 {
		return -1
	}
	for _, lang := range priority {
		for _, track := range probe.AudioTracks {
			if strings.EqualFold(track.Language, lang) {
				return track.Index
			}
		}
	}
	return probe.AudioTracks[0].Index
}
