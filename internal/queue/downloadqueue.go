package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EdisAganovic/musicremoval/internal/download"
	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/storage"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// maxDownloadAttempts bounds attempts of one queue item: the first try
// plus up to three retries, one per retryBackoff entry.
const maxDownloadAttempts = 4

// retryBackoff is the sleep schedule between attempts.
var retryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// ErrNotRemovable is returned when removing a non-pending item.
var ErrNotRemovable = errors.New("only pending items can be removed")

// queueFile is the persisted shape of the download queue: the item list
// plus whether the dispatcher was running, so a restart can resume.
type queueFile struct {
	Running bool               `json:"running"`
	Items   []*types.QueueItem `json:"items"`
}

// QueueSnapshot is the listing returned by the queue endpoints.
type QueueSnapshot struct {
	Queue      []types.QueueItem `json:"queue"`
	Processing string            `json:"processing,omitempty"`
	Running    bool              `json:"running"`
}

// DownloadQueue is the persistent FIFO of pending downloads. Each
// dispatcher downloads one item at a time (one dispatcher by default);
// every state change is flushed to disk with an atomic replace.
type DownloadQueue struct {
	mu         sync.Mutex
	items      []*types.QueueItem
	running    bool
	processing string // queue id currently downloading

	path    string
	toolkit *media.Toolkit
	driver  *download.Driver
	manager *jobs.Manager
	pool    *SeparationPool
	library *storage.Library
	wake    chan struct{}
}

// NewDownloadQueue rehydrates the queue from its JSON file. Items that
// were mid-download when the process died go back to pending with their
// attempt count preserved. workers bounds how many items download at
// once (default 1).
func NewDownloadQueue(path string, workers int, tk *media.Toolkit, driver *download.Driver, manager *jobs.Manager, pool *SeparationPool, library *storage.Library) *DownloadQueue {
	if workers < 1 {
		workers = 1
	}
	q := &DownloadQueue{
		path:    path,
		toolkit: tk,
		driver:  driver,
		manager: manager,
		pool:    pool,
		library: library,
		wake:    make(chan struct{}, workers),
	}
	q.load()
	for i := 0; i < workers; i++ {
		go q.dispatch()
	}
	if q.running {
		q.kick()
	}
	return q
}

func (q *DownloadQueue) load() {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Could not read queue file %s: %v", q.path, err)
		}
		return
	}
	var f queueFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("Corrupt queue file %s: %v. Starting empty.", q.path, err)
		return
	}
	for _, item := range f.Items {
		if item.Status == types.QueueDownloading {
			item.Status = types.QueuePending
		}
	}
	q.items = f.Items
	q.running = f.Running
	log.Printf("Download queue restored: %d items (running=%v)", len(q.items), q.running)
}

// saveLocked flushes state with write-tmp + rename. Callers hold the
// lock.
func (q *DownloadQueue) saveLocked() {
	f := queueFile{Running: q.running, Items: q.items}
	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		log.Printf("Queue marshal error: %v", err)
		return
	}
	if dir := filepath.Dir(q.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("Queue directory error: %v", err)
			return
		}
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("Queue write error: %v", err)
		return
	}
	if err := os.Rename(tmp, q.path); err != nil {
		log.Printf("Queue rename error: %v", err)
	}
}

func (q *DownloadQueue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Add appends one item and returns its queue id.
func (q *DownloadQueue) Add(item types.QueueItem) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.QueueID = uuid.New().String()
	item.Status = types.QueuePending
	item.AddedAt = time.Now().UTC()
	if item.FormatKind == "" {
		item.FormatKind = download.FormatVideo
	}
	q.items = append(q.items, &item)
	q.saveLocked()
	q.kick()
	return item.QueueID
}

// AddBatch appends several items sharing the same options.
func (q *DownloadQueue) AddBatch(items []types.QueueItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, q.Add(item))
	}
	return ids
}

// Remove drops a pending item. Items in any other state are refused.
func (q *DownloadQueue) Remove(queueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.QueueID != queueID {
			continue
		}
		if item.Status != types.QueuePending {
			return ErrNotRemovable
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.saveLocked()
		return nil
	}
	return types.NewError(types.KindQueueState, "queue item not found: %s", queueID)
}

// ClearDone removes completed and failed items.
func (q *DownloadQueue) ClearDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		if item.Status == types.QueueCompleted || item.Status == types.QueueFailed {
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	q.saveLocked()
}

// Start enables the dispatcher.
func (q *DownloadQueue) Start() {
	q.mu.Lock()
	q.running = true
	q.saveLocked()
	q.mu.Unlock()
	q.kick()
}

// Stop prevents the next pick. The in-flight download keeps going.
func (q *DownloadQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	q.saveLocked()
}

// Snapshot returns a copy of the queue state.
func (q *DownloadQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := QueueSnapshot{
		Queue:      make([]types.QueueItem, len(q.items)),
		Processing: q.processing,
		Running:    q.running,
	}
	for i, item := range q.items {
		snap.Queue[i] = *item
	}
	return snap
}

// nextPending pops the first pending item, FIFO by insertion order.
func (q *DownloadQueue) nextPending() *types.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return nil
	}
	for _, item := range q.items {
		if item.Status == types.QueuePending {
			item.Status = types.QueueDownloading
			q.processing = item.QueueID
			q.saveLocked()
			return item
		}
	}
	return nil
}

// dispatch is one queue consumer; NewDownloadQueue starts one per worker.
func (q *DownloadQueue) dispatch() {
	for range q.wake {
		for {
			item := q.nextPending()
			if item == nil {
				break
			}
			q.process(item)
		}
	}
}

// update mutates one item under the lock and persists.
func (q *DownloadQueue) update(item *types.QueueItem, fn func()) {
	q.mu.Lock()
	fn()
	q.saveLocked()
	q.mu.Unlock()
}

// process downloads one item as a tracked job, retrying transient
// failures. A failing item never poisons the queue.
func (q *DownloadQueue) process(item *types.QueueItem) {
	defer func() {
		q.mu.Lock()
		q.processing = ""
		q.saveLocked()
		q.mu.Unlock()
	}()

	jobID := uuid.New().String()
	q.manager.Create(jobID, types.KindDownload, item.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.manager.BindCancel(jobID, cancel)
	q.manager.Start(jobID)
	q.update(item, func() { item.JobID = jobID })

	req := download.Request{
		URL:        item.URL,
		FormatKind: item.FormatKind,
		FormatID:   item.FormatID,
		Subtitles:  item.Subtitles,
	}

	var (
		path string
		err  error
	)
	for {
		q.update(item, func() { item.AttemptCount++ })

		path, err = q.driver.Download(ctx, req, func(pct float64, step string) {
			q.manager.Progress(jobID, pct, step)
			// Persist only on whole-percent changes to keep the disk
			// write rate sane against yt-dlp's chatty progress lines.
			q.mu.Lock()
			if int(pct) > item.Progress {
				item.Progress = int(pct)
				q.saveLocked()
			}
			q.mu.Unlock()
		})
		if err == nil || !types.IsTransient(err) || item.AttemptCount >= maxDownloadAttempts {
			break
		}
		backoff := retryBackoff[(item.AttemptCount-1)%len(retryBackoff)]
		log.Printf("Download attempt %d/%d failed for %s, retrying in %s: %v",
			item.AttemptCount, maxDownloadAttempts, item.URL, backoff, err)
		time.Sleep(backoff)
	}

	if err != nil {
		q.manager.Fail(jobID, err)
		q.update(item, func() {
			item.Status = types.QueueFailed
			item.Error = err.Error()
		})
		return
	}

	probe, perr := q.toolkit.Probe(ctx, path)
	if perr != nil {
		log.Printf("Could not probe downloaded file %s: %v", path, perr)
	} else {
		q.manager.SetMetadata(jobID, probe)
	}
	q.manager.Complete(jobID, []string{path})
	q.update(item, func() {
		item.Status = types.QueueCompleted
		item.Progress = 100
	})

	if q.library != nil {
		if err := q.library.Save(storage.LibraryEntry{
			TaskID:      jobID,
			Kind:        types.KindDownload,
			ResultFiles: []string{path},
			Metadata:    probe,
		}); err != nil {
			log.Printf("Failed to save download to library: %v", err)
		}
	}

	if item.AutoSeparate {
		sepID := q.pool.Submit(path, pipeline.Options{Model: types.ModelBoth})
		log.Printf("Auto-separate: submitted job %s for %s", sepID, path)
	}
}
