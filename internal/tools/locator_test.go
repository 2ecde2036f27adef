package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

func TestLocateMissingWithoutFetch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH manipulation differs on windows")
	}
	t.Setenv("PATH", t.TempDir())

	l := NewLocator(t.TempDir(), false, nil)
	_, err := l.Locate(context.Background(), FFmpeg)
	if err == nil {
		t.Fatal("expected missing dependency error")
	}

	var pe *types.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T", err)
	}
	if pe.Kind != types.KindMissingDependency {
		t.Errorf("kind = %s", pe.Kind)
	}
	if !strings.Contains(pe.Message, "ffmpeg") {
		t.Errorf("message lacks tool name: %s", pe.Message)
	}
}

func TestLocateFindsToolOnPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH manipulation differs on windows")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	l := NewLocator(t.TempDir(), false, nil)
	path, err := l.Locate(context.Background(), FFprobe)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("path not absolute: %s", path)
	}
	if filepath.Base(path) != "ffprobe" {
		t.Errorf("unexpected binary: %s", path)
	}
}

func TestLocateCachesResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH manipulation differs on windows")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	l := NewLocator(t.TempDir(), false, nil)
	first, err := l.Locate(context.Background(), YtDlp)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	// Remove the binary; the cached path must still be served.
	os.Remove(fake)
	second, err := l.Locate(context.Background(), YtDlp)
	if err != nil {
		t.Fatalf("cached Locate: %v", err)
	}
	if first != second {
		t.Errorf("cache miss: %s vs %s", first, second)
	}
}

func TestLocateUsesLocalBinDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH manipulation differs on windows")
	}
	t.Setenv("PATH", t.TempDir())

	binDir := t.TempDir()
	local := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(local, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLocator(binDir, false, nil)
	path, err := l.Locate(context.Background(), FFmpeg)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if filepath.Dir(path) != binDir {
		t.Errorf("expected local bin dir, got %s", path)
	}
}
