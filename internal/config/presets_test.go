package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writePresetsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPresetsMissingFileUsesDefaults(t *testing.T) {
	s := LoadPresets(filepath.Join(t.TempDir(), "absent.json"))

	p := s.Current()
	if p.Video.Codec != "copy" || p.Audio.Codec != "aac" || p.Output.Format != "mp4" {
		t.Errorf("defaults not applied: %+v", p)
	}
	if p.Audio.Bitrate == nil || *p.Audio.Bitrate != "192k" {
		t.Error("default audio bitrate missing")
	}
	if s.DemucsWorkers() != 2 {
		t.Errorf("default demucs workers = %d", s.DemucsWorkers())
	}
}

func TestLoadPresetsInvalidJSONFallsBack(t *testing.T) {
	path := writePresetsFile(t, "{not valid json")
	s := LoadPresets(path)

	if s.CurrentName() != "default" {
		t.Errorf("corrupt file should keep defaults, got %s", s.CurrentName())
	}
}

func TestLoadPresetsTopLevelOverrides(t *testing.T) {
	path := writePresetsFile(t, `{
		"video": {"codec": "libx264", "bitrate": "1800k"},
		"audio": {"bitrate": "128k"},
		"processing": {"demucs_workers": 4}
	}`)
	s := LoadPresets(path)

	p := s.Current()
	if p.Video.Codec != "libx264" {
		t.Errorf("video codec = %s", p.Video.Codec)
	}
	if p.Video.Bitrate == nil || *p.Video.Bitrate != "1800k" {
		t.Error("video bitrate override lost")
	}
	// Unset fields keep their defaults.
	if p.Audio.Codec != "aac" {
		t.Errorf("audio codec = %s, want default aac", p.Audio.Codec)
	}
	if p.Audio.Bitrate == nil || *p.Audio.Bitrate != "128k" {
		t.Error("audio bitrate override lost")
	}
	if s.DemucsWorkers() != 4 {
		t.Errorf("demucs workers = %d, want 4", s.DemucsWorkers())
	}
}

func TestLoadPresetsNamedPresetsAndSelector(t *testing.T) {
	path := writePresetsFile(t, `{
		"presets": {
			"archive": {"video": {"codec": "libx265"}, "output": {"format": "mkv"}}
		},
		"current_preset": "archive"
	}`)
	s := LoadPresets(path)

	if s.CurrentName() != "archive" {
		t.Fatalf("current = %s, want archive", s.CurrentName())
	}
	p := s.Current()
	if p.Video.Codec != "libx265" || p.Output.Format != "mkv" {
		t.Errorf("preset not loaded: %+v", p)
	}
	if p.Audio.Codec != "aac" {
		t.Error("normalization should fill audio defaults")
	}
}

func TestSelectPersistsAtomically(t *testing.T) {
	path := writePresetsFile(t, `{
		"presets": {"alt": {"output": {"format": "mkv"}}},
		"current_preset": "default"
	}`)
	s := LoadPresets(path)

	if err := s.Select("alt"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := s.Select("nope"); err == nil {
		t.Error("unknown preset must be rejected")
	}

	// Reload from disk: the selection survived and no .tmp remains.
	again := LoadPresets(path)
	if again.CurrentName() != "alt" {
		t.Errorf("persisted selector = %s, want alt", again.CurrentName())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	data, _ := os.ReadFile(path)
	if !json.Valid(data) {
		t.Error("persisted file is not valid JSON")
	}
}
