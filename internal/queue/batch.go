package queue

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// Batch is one scanned folder held in memory until processed.
type Batch struct {
	ID    string
	Items []*types.BatchItem
	Model string
}

// BatchStatus is the aggregate view served by GET /batch-status.
type BatchStatus struct {
	TotalFiles int               `json:"total_files"`
	Processed  int               `json:"processed"`
	Success    int               `json:"success"`
	Failed     int               `json:"failed"`
	Files      []types.BatchItem `json:"files"`
}

// BatchManager scans folders and feeds selected files onto the shared
// separation pool. Batches live in memory only.
type BatchManager struct {
	mu      sync.Mutex
	batches map[string]*Batch

	toolkit *media.Toolkit
	pool    *SeparationPool
	manager *jobs.Manager
}

func NewBatchManager(tk *media.Toolkit, pool *SeparationPool, manager *jobs.Manager) *BatchManager {
	return &BatchManager{
		batches: make(map[string]*Batch),
		toolkit: tk,
		pool:    pool,
		manager: manager,
	}
}

// Scan walks a folder non-recursively, keeping files with a supported
// media extension in name order. Each entry is probed for the UI.
func (bm *BatchManager) Scan(ctx context.Context, folder string) (*Batch, error) {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return nil, types.NewError(types.KindInvalidInput, "folder not found: %s", folder)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, types.NewError(types.KindInvalidInput, "cannot read folder %s: %v", folder, err)
	}

	batch := &Batch{ID: uuid.New().String()}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !media.IsMediaFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(folder, name)
		item := &types.BatchItem{
			FileID:   uuid.New().String(),
			Path:     path,
			Name:     name,
			Selected: true,
			Status:   types.BatchPending,
		}
		if probe, err := bm.toolkit.Probe(ctx, path); err == nil {
			item.Metadata = probe
		} else {
			log.Printf("Could not probe %s during folder scan: %v", path, err)
		}
		batch.Items = append(batch.Items, item)
	}

	bm.mu.Lock()
	bm.batches[batch.ID] = batch
	bm.mu.Unlock()
	return batch, nil
}

// Process submits every selected pending item to the separation pool.
// Concurrency is bounded by the pool's worker count.
func (bm *BatchManager) Process(batchID, model string) (*Batch, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	batch, ok := bm.batches[batchID]
	if !ok {
		return nil, types.NewError(types.KindQueueState, "unknown batch: %s", batchID)
	}
	batch.Model = model

	for _, item := range batch.Items {
		if !item.Selected || item.Status != types.BatchPending || item.JobID != "" {
			continue
		}
		item.JobID = bm.pool.Submit(item.Path, pipeline.Options{Model: model})
		item.Status = types.BatchProcessing
	}
	return batch, nil
}

// Remove drops an unprocessed item from a batch.
func (bm *BatchManager) Remove(batchID, fileID string) (*Batch, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	batch, ok := bm.batches[batchID]
	if !ok {
		return nil, types.NewError(types.KindQueueState, "unknown batch: %s", batchID)
	}
	for i, item := range batch.Items {
		if item.FileID != fileID {
			continue
		}
		if item.Status != types.BatchPending {
			return nil, types.NewError(types.KindQueueState, "only pending items can be removed")
		}
		batch.Items = append(batch.Items[:i], batch.Items[i+1:]...)
		return batch, nil
	}
	return nil, types.NewError(types.KindQueueState, "unknown file: %s", fileID)
}

// Status folds each item's job snapshot into the batch view.
func (bm *BatchManager) Status(batchID string) (*BatchStatus, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	batch, ok := bm.batches[batchID]
	if !ok {
		return nil, types.NewError(types.KindQueueState, "unknown batch: %s", batchID)
	}

	status := &BatchStatus{TotalFiles: len(batch.Items)}
	for _, item := range batch.Items {
		if item.JobID != "" {
			if snap, err := bm.manager.Snapshot(item.JobID); err == nil {
				item.Progress = snap.Progress
				switch snap.Status {
				case types.StatusCompleted:
					item.Status = types.BatchCompleted
				case types.StatusFailed, types.StatusCancelled:
					item.Status = types.BatchFailed
				case types.StatusProcessing:
					item.Status = types.BatchProcessing
				}
			}
		}
		switch item.Status {
		case types.BatchCompleted:
			status.Processed++
			status.Success++
		case types.BatchFailed:
			status.Processed++
			status.Failed++
		}
		status.Files = append(status.Files, *item)
	}
	return status, nil
}

// Get returns a batch by id.
func (bm *BatchManager) Get(batchID string) (*Batch, bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	batch, ok := bm.batches[batchID]
	return batch, ok
}
