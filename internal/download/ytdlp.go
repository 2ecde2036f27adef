// Package download wraps yt-dlp as a subprocess: format probing, the
// actual download with parsed progress lines, and filename handling.
// Progress parsing lives only here so yt-dlp output drift stays
// contained.
package download

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/tools"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// AttemptTimeout bounds a single download attempt.
const AttemptTimeout = 30 * time.Minute

// Format kind constants for requests.
const (
	FormatAudio = "audio"
	FormatVideo = "video"
)

// progressRE matches yt-dlp's "[download]  42.7% of ..." lines.
var progressRE = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

// formatFallbacks is the chain tried when no explicit format id is given
// for video downloads.
var formatFallbacks = []string{
	"bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]",
	"bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
}

// ProgressFunc receives download progress in [0,100] with a step label.
type ProgressFunc func(pct float64, step string)

// Request describes one download.
type Request struct {
	URL        string
	Filename   string // optional explicit output name
	FormatKind string // audio | video
	FormatID   string // opaque yt-dlp format id, optional
	Subtitles  string // language code, "all", or "" / "none"
}

// Driver invokes yt-dlp into the download directory.
type Driver struct {
	Locator     *tools.Locator
	DownloadDir string
}

func NewDriver(locator *tools.Locator, downloadDir string) *Driver {
	return &Driver{Locator: locator, DownloadDir: downloadDir}
}

// Download fetches the media and returns the final file path. Existing
// files with the same base name are reused.
func (d *Driver) Download(ctx context.Context, req Request, progress ProgressFunc) (string, error) {
	ytdlp, err := d.Locator.Locate(ctx, tools.YtDlp)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.DownloadDir, 0o755); err != nil {
		return "", err
	}

	// Strip list parameters so a share link does not pull a playlist.
	url := strings.SplitN(req.URL, "&", 2)[0]

	template := filepath.Join(d.DownloadDir, "%(title).100s.%(ext)s")
	if req.Filename != "" {
		template = filepath.Join(d.DownloadDir, SanitizeFilename(req.Filename))
	}

	progress(0, "Resolving filename")
	expected, err := d.resolveFilename(ctx, ytdlp, url, template)
	if err != nil {
		return "", err
	}

	if existing := d.findExisting(expected); existing != "" {
		progress(100, "Already downloaded")
		return existing, nil
	}

	for i, format := range d.formatAttempts(req) {
		if i > 0 {
			progress(0, fmt.Sprintf("Retrying with fallback format (%d)", i+1))
		}
		path, err := d.attempt(ctx, ytdlp, url, template, expected, format, req, progress)
		if err == nil {
			progress(100, "Download complete")
			return path, nil
		}
		if ctx.Err() != nil || !types.IsTransient(err) {
			return "", err
		}
		if i < len(formatFallbacks) {
			time.Sleep(2 * time.Second)
		}
	}
	return "", types.NewError(types.KindDownloadFailed, "download failed after all format attempts")
}

func (d *Driver) formatAttempts(req Request) []string {
	if req.FormatID != "" {
		if req.FormatKind == FormatVideo {
			return append([]string{req.FormatID + "+bestaudio/best"}, formatFallbacks...)
		}
		return []string{req.FormatID, "bestaudio/best"}
	}
	if req.FormatKind == FormatAudio {
		return []string{"bestaudio/best"}
	}
	return formatFallbacks
}

// resolveFilename asks yt-dlp for the final output path before the
// download starts.
func (d *Driver) resolveFilename(ctx context.Context, ytdlp, url, template string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, ytdlp,
		"--get-filename",
		"--ignore-errors",
		"-o", template,
		url,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", classify(stderr.String(), &types.PipelineError{
			Kind:    types.KindDownloadFailed,
			Message: "could not resolve video metadata",
			Cmd: types.CommandLog{
				Command:    ytdlp,
				ExitCode:   exitCode(cmd),
				StderrTail: media.Tail(stderr.Bytes(), 2048),
			},
			Err: err,
		})
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// findExisting reuses a file already in the download dir with the same
// base name, regardless of extension.
func (d *Driver) findExisting(expected string) string {
	want := strings.TrimSuffix(filepath.Base(expected), filepath.Ext(expected))
	entries, err := os.ReadDir(d.DownloadDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		if strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())) == want {
			p := filepath.Join(d.DownloadDir, e.Name())
			if media.FileNonEmpty(p) {
				return p
			}
		}
	}
	return ""
}

// attempt runs one bounded yt-dlp invocation, streaming progress.
func (d *Driver) attempt(ctx context.Context, ytdlp, url, template, expected, format string, req Request, progress ProgressFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	args := []string{
		"--newline",
		"--ignore-errors",
		"--no-playlist",
		"-o", template,
		"-f", format,
	}
	if req.FormatKind == FormatAudio {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	}
	switch req.Subtitles {
	case "", "none":
	case "all":
		args = append(args, "--write-subs", "--sub-langs", "all")
	default:
		args = append(args, "--write-subs", "--sub-langs", req.Subtitles)
	}
	args = append(args, url)

	before, _ := os.ReadDir(d.DownloadDir)
	seen := make(map[string]bool, len(before))
	for _, e := range before {
		seen[e.Name()] = true
	}

	cmd := exec.CommandContext(ctx, ytdlp, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if pct, ok := ParseProgressLine(scanner.Text()); ok {
			progress(pct, fmt.Sprintf("Downloading: %.1f%%", pct))
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			return "", types.NewError(types.KindCancelled, "download cancelled")
		}
		return "", classify(stderr.String(), &types.PipelineError{
			Kind:      types.KindDownloadFailed,
			Message:   "yt-dlp exited with an error",
			Transient: true,
			Cmd: types.CommandLog{
				Command:    ytdlp,
				Args:       args,
				ExitCode:   exitCode(cmd),
				StderrTail: media.Tail(stderr.Bytes(), 2048),
			},
			Err: err,
		})
	}

	progress(99, "Finalizing & merging formats")

	if media.FileNonEmpty(expected) {
		return expected, nil
	}
	// Post-processing may have changed the extension; pick up whatever
	// new non-partial file appeared.
	after, err := os.ReadDir(d.DownloadDir)
	if err != nil {
		return "", err
	}
	for _, e := range after {
		if e.IsDir() || seen[e.Name()] || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		p := filepath.Join(d.DownloadDir, e.Name())
		if media.FileNonEmpty(p) && media.IsMediaFile(p) {
			return p, nil
		}
	}
	return "", &types.PipelineError{
		Kind:      types.KindDownloadFailed,
		Message:   "yt-dlp finished but no output file was produced",
		Transient: true,
	}
}

// exitCode is safe against commands that never started.
func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// ParseProgressLine extracts the percentage token from a yt-dlp progress
// line.
func ParseProgressLine(line string) (float64, bool) {
	m := progressRE.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// permanentMarkers are stderr fragments that indicate a retry cannot
// help.
var permanentMarkers = []string{
	"is not a valid URL",
	"Unsupported URL",
	"Requested format is not available",
	"Video unavailable",
	"Private video",
}

// classify downgrades the transient flag for clearly permanent failures.
func classify(stderr string, pe *types.PipelineError) error {
	for _, marker := range permanentMarkers {
		if strings.Contains(stderr, marker) {
			pe.Transient = false
			return pe
		}
	}
	return pe
}

// SanitizeFilename strips path components and characters that are
// invalid on common filesystems, and bounds the length preserving the
// extension.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "..", "_")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")

	const maxLen = 200
	if len(name) > maxLen {
		ext := filepath.Ext(name)
		base := name[:maxLen-len(ext)]
		name = base + ext
	}
	if name == "" {
		name = "download"
	}
	return name
}
