package media

import (
	"testing"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

const videoProbeJSON = `{
	"format": {"duration": "12.300000"},
	"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
		{"index": 1, "codec_type": "audio", "codec_name": "aac", "tags": {"language": "eng"}},
		{"index": 2, "codec_type": "audio", "codec_name": "ac3", "tags": {"language": "hrv"}}
	]
}`

func TestParseProbeVideo(t *testing.T) {
	probe, err := parseProbe(videoProbeJSON)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}

	if probe.DurationSeconds != 12.3 {
		t.Errorf("duration = %g, want 12.3", probe.DurationSeconds)
	}
	if !probe.IsVideo {
		t.Error("expected is_video")
	}
	if probe.VideoCodec != "h264" || probe.Resolution != "1920x1080" {
		t.Errorf("video stream: %s %s", probe.VideoCodec, probe.Resolution)
	}
	if probe.AudioCodec != "aac" {
		t.Errorf("primary audio codec = %s", probe.AudioCodec)
	}
	if len(probe.AudioTracks) != 2 {
		t.Fatalf("audio tracks = %d, want 2", len(probe.AudioTracks))
	}
	if probe.AudioTracks[1].Language != "hrv" {
		t.Errorf("track language = %s", probe.AudioTracks[1].Language)
	}
}

func TestParseProbeAudioOnly(t *testing.T) {
	probe, err := parseProbe(`{
		"format": {"duration": "1830.0"},
		"streams": [{"index": 0, "codec_type": "audio", "codec_name": "flac"}]
	}`)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if probe.IsVideo {
		t.Error("audio-only input flagged as video")
	}
	if probe.AudioTracks[0].Language != "unknown" {
		t.Errorf("missing tags should map to unknown, got %s", probe.AudioTracks[0].Language)
	}
}

func TestParseProbeMalformed(t *testing.T) {
	if _, err := parseProbe("not json"); err == nil {
		t.Error("expected error for malformed output")
	}
	if _, err := parseProbe(`{"format": {"duration": "abc"}, "streams": []}`); err == nil {
		t.Error("expected error for non-numeric duration")
	}
}

func TestSelectAudioTrack(t *testing.T) {
	probe, _ := parseProbe(videoProbeJSON)

	tests := []struct {
		name     string
		priority []string
		want     int
	}{
		{"priority match wins", []string{"hr", "hrv"}, 2},
		{"no match falls back to first audio", []string{"jpn"}, 1},
		{"empty priority picks first audio", nil, 1},
		{"case insensitive", []string{"HRV"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectAudioTrack(probe, tt.priority); got != tt.want {
				t.Errorf("SelectAudioTrack = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelectAudioTrackNoAudio(t *testing.T) {
	if got := SelectAudioTrack(&types.MediaProbe{}, nil); got != -1 {
		t.Errorf("no audio tracks should return -1, got %d", got)
	}
}

func TestParseLoudnormStats(t *testing.T) {
	stderr := `
[Parsed_loudnorm_0 @ 0x55]
{
	"input_i" : "-18.61",
	"input_tp" : "-4.47",
	"input_lra" : "6.30",
	"input_thresh" : "-29.11",
	"output_i" : "-22.93",
	"target_offset" : "0.27"
}`
	stats, err := parseLoudnormStats(stderr)
	if err != nil {
		t.Fatalf("parseLoudnormStats: %v", err)
	}
	if stats.InputI != "-18.61" || stats.TargetOff != "0.27" {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if _, err := parseLoudnormStats("no json here"); err == nil {
		t.Error("expected error without a JSON block")
	}
}

func TestMediaExtensionFilters(t *testing.T) {
	if !IsVideoFile("a/b/Clip.MP4") {
		t.Error("mp4 should be video")
	}
	if !IsAudioFile("mix.flac") {
		t.Error("flac should be audio")
	}
	if IsMediaFile("notes.txt") {
		t.Error("txt is not media")
	}
}

func TestAudioOutputExt(t *testing.T) {
	tests := map[string]string{
		"in.flac": ".flac",
		"in.wav":  ".wav",
		"in.m4a":  ".m4a",
		"in.ogg":  ".mp3",
		"in.mp3":  ".mp3",
	}
	for in, want := range tests {
		if got := AudioOutputExt(in); got != want {
			t.Errorf("AudioOutputExt(%s) = %s, want %s", in, got, want)
		}
	}
}
