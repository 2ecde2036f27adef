// Package cleanup sweeps orphaned temp files left behind by crashed
// runs. Live jobs remove their own temp directory on any terminal
// transition; this scheduler only catches what they could not.
package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// Scheduler periodically removes aged entries from the temp root.
type Scheduler struct {
	tempDir         string
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
}

// NewScheduler creates a cleanup scheduler over the temp root.
func NewScheduler(tempDir string, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		tempDir:         tempDir,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start runs an initial sweep and then ticks at the configured interval.
func (s *Scheduler) Start() {
	log.Println("Running initial temp cleanup...")
	s.sweep()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %dm, max age: %dh)",
		s.intervalMinutes, s.maxAgeHours)
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

// sweep removes top-level temp entries older than the age limit. Job
// temp dirs are removed whole; an active job keeps touching files
// inside its dir, so aged mtimes mean the owner is gone.
func (s *Scheduler) sweep() {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Error reading temp dir: %v", err)
		}
		return
	}

	now := time.Now()
	maxAge := time.Duration(s.maxAgeHours) * time.Hour
	var removed int

	for _, entry := range entries {
		path := filepath.Join(s.tempDir, entry.Name())
		age, ok := newestModTime(path)
		if !ok || now.Sub(age) <= maxAge {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Printf("Failed to remove stale temp entry %s: %v", path, err)
			continue
		}
		removed++
		log.Printf("Removed stale temp entry: %s (age %s)", entry.Name(), now.Sub(age).Round(time.Hour))
	}
	if removed > 0 {
		log.Printf("Cleanup complete: %d entries removed", removed)
	}
}

// newestModTime returns the most recent mtime under path.
func newestModTime(path string) (time.Time, bool) {
	var newest time.Time
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil || newest.IsZero() {
		return time.Time{}, false
	}
	return newest, true
}

// EnsureTempDirExists creates the temp directory if it doesn't exist.
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
