package queue

import (
	"testing"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

func TestSeparationPoolFailsMissingInput(t *testing.T) {
	manager := jobs.NewManager(jobs.NewEventBus(100))
	pool := NewSeparationPool(1, &pipeline.Pipeline{Jobs: manager}, manager)
	pool.Start()

	jobID := pool.Submit("/no/such/input.mp4", pipeline.Options{Model: types.ModelBoth})

	deadline := time.After(5 * time.Second)
	for {
		snap, err := manager.Snapshot(jobID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Status == types.StatusFailed {
			if snap.Error == "" {
				t.Error("failed job must carry an error")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job stuck in %s", snap.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSeparationPoolSkipsCancelledJob(t *testing.T) {
	manager := jobs.NewManager(jobs.NewEventBus(100))
	pool := NewSeparationPool(1, &pipeline.Pipeline{Jobs: manager}, manager)

	// Submit before starting workers so the cancel lands while queued.
	jobID := pool.Submit("/no/such/input.mp4", pipeline.Options{Model: types.ModelBoth})
	if err := manager.Cancel(jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	pool.Start()

	time.Sleep(100 * time.Millisecond)
	snap, _ := manager.Snapshot(jobID)
	if snap.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
}
