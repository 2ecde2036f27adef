package tools

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

// Tool names the external binaries the service depends on.
type Tool string

const (
	FFmpeg  Tool = "ffmpeg"
	FFprobe Tool = "ffprobe"
	YtDlp   Tool = "yt-dlp"
)

// Locator guarantees the external toolchain is present and returns
// absolute paths. Results are cached for the process lifetime; fetches
// are serialized per tool so concurrent startup requests share one
// download.
type Locator struct {
	binDir     string
	allowFetch bool
	urls       map[Tool]string
	client     *http.Client

	mu    sync.Mutex
	locks map[Tool]*sync.Mutex
	cache map[Tool]string
}

// NewLocator creates a locator that fetches missing tools into binDir
// from the given archive URLs when allowFetch is set.
func NewLocator(binDir string, allowFetch bool, urls map[Tool]string) *Locator {
	return &Locator{
		binDir:     binDir,
		allowFetch: allowFetch,
		urls:       urls,
		client:     &http.Client{Timeout: 10 * time.Minute},
		locks:      make(map[Tool]*sync.Mutex),
		cache:      make(map[Tool]string),
	}
}

// Locate returns the absolute path to the tool, fetching it if policy
// allows. Missing tools produce a missing_dependency error with a
// remediation hint.
func (l *Locator) Locate(ctx context.Context, tool Tool) (string, error) {
	l.mu.Lock()
	if p, ok := l.cache[tool]; ok {
		l.mu.Unlock()
		return p, nil
	}
	lock, ok := l.locks[tool]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[tool] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished the fetch while we waited.
	l.mu.Lock()
	if p, ok := l.cache[tool]; ok {
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	path, err := l.resolve(ctx, tool)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	l.cache[tool] = path
	l.mu.Unlock()
	return path, nil
}

func (l *Locator) resolve(ctx context.Context, tool Tool) (string, error) {
	// 1. System PATH.
	if p, err := exec.LookPath(string(tool)); err == nil {
		abs, err := filepath.Abs(p)
		if err == nil {
			return abs, nil
		}
	}

	// 2. Previously fetched local copy.
	local := filepath.Join(l.binDir, binaryName(tool))
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return filepath.Abs(local)
	}

	// 3. Fetch if policy allows.
	if !l.allowFetch || l.urls[tool] == "" {
		return "", &types.PipelineError{
			Kind:    types.KindMissingDependency,
			Which:   string(tool),
			Message: fmt.Sprintf("%s not found in PATH; install it or enable tools.allow_fetch with a download URL", tool),
		}
	}

	log.Printf("Fetching %s from %s", tool, l.urls[tool])
	if err := l.fetch(ctx, tool, local); err != nil {
		return "", &types.PipelineError{
			Kind:    types.KindMissingDependency,
			Which:   string(tool),
			Message: fmt.Sprintf("failed to fetch %s: %v; install it manually and add it to PATH", tool, err),
			Err:     err,
		}
	}
	return filepath.Abs(local)
}

// fetch streams the archive to a .part file and extracts or renames it
// into place, so a crashed download never leaves a partial binary.
func (l *Locator) fetch(ctx context.Context, tool Tool, dest string) error {
	if err := os.MkdirAll(l.binDir, 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.urls[tool], nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return err
	}
	log.Printf("Downloaded %s (%.2f MB)", tool, float64(written)/(1024*1024))

	if strings.HasSuffix(strings.ToLower(l.urls[tool]), ".zip") {
		err = extractFromZip(part, string(tool), dest)
		os.Remove(part)
		if err != nil {
			return err
		}
	} else {
		if err := os.Rename(part, dest); err != nil {
			return err
		}
	}
	return os.Chmod(dest, 0o755)
}

// extractFromZip pulls the first archive member whose basename matches
// the tool name.
func extractFromZip(archivePath, tool, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	want := tool
	if runtime.GOOS == "windows" {
		want += ".exe"
	}
	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if name != want && strings.TrimSuffix(name, ".exe") != tool {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return fmt.Errorf("archive does not contain %s", want)
}

func binaryName(tool Tool) string {
	if runtime.GOOS == "windows" {
		return string(tool) + ".exe"
	}
	return string(tool)
}
