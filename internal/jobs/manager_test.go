package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

func newTestManager() *Manager {
	return NewManager(NewEventBus(100))
}

func TestJobLifecycle(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)

	snap, err := m.Snapshot("job-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != types.StatusQueued {
		t.Errorf("new job status = %s, want queued", snap.Status)
	}

	m.Start("job-1")
	m.Progress("job-1", 50, "Separating")
	m.Complete("job-1", []string{"nomusic/nomusic-in.mp4"})

	snap, _ = m.Snapshot("job-1")
	if snap.Status != types.StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if snap.Progress != 100 {
		t.Errorf("completed progress = %d, want 100", snap.Progress)
	}
	if len(snap.ResultFiles) != 1 {
		t.Errorf("result files = %v", snap.ResultFiles)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)
	m.Start("job-1")

	m.Progress("job-1", 40, "step a")
	m.Progress("job-1", 25, "stale update")
	snap, _ := m.Snapshot("job-1")
	if snap.Progress != 40 {
		t.Errorf("progress regressed to %d", snap.Progress)
	}
	// The step still advances even when the percentage is stale.
	if snap.CurrentStep != "stale update" {
		t.Errorf("current_step = %q", snap.CurrentStep)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)
	m.Start("job-1")
	m.Fail("job-1", errors.New("boom"))

	m.Progress("job-1", 90, "late update")
	m.Complete("job-1", []string{"x"})

	snap, _ := m.Snapshot("job-1")
	if snap.Status != types.StatusFailed {
		t.Errorf("terminal state changed to %s", snap.Status)
	}
	if snap.Progress == 90 || snap.Progress == 100 {
		t.Errorf("terminal job accepted progress update: %d", snap.Progress)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)

	if err := m.Cancel("job-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snap, _ := m.Snapshot("job-1")
	if snap.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
}

func TestCancelAfterCancelIsAlreadyTerminal(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)
	if err := m.Cancel("job-1"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := m.Cancel("job-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second cancel = %v, want ErrAlreadyTerminal", err)
	}
}

func TestCancelSignalsRunContext(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)

	ctx, cancel := context.WithCancel(context.Background())
	m.BindCancel("job-1", cancel)
	m.Start("job-1")

	if err := m.Cancel("job-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("cancel did not propagate to the run context")
	}

	// The worker observes the context and reports the failure.
	m.Fail("job-1", ctx.Err())
	snap, _ := m.Snapshot("job-1")
	if snap.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	m := newTestManager()
	if err := m.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	m := newTestManager()
	m.Create("job-1", types.KindSeparate, "in.mp4", types.ModelBoth)
	m.Start("job-1")
	m.Complete("job-1", []string{"a"})

	snap, _ := m.Snapshot("job-1")
	snap.ResultFiles[0] = "mutated"

	again, _ := m.Snapshot("job-1")
	if again.ResultFiles[0] != "a" {
		t.Error("snapshot shares state with the job")
	}
}

func TestListFiltersByKind(t *testing.T) {
	m := newTestManager()
	m.Create("s1", types.KindSeparate, "a", types.ModelBoth)
	m.Create("d1", types.KindDownload, "url", "")

	if got := len(m.List("")); got != 2 {
		t.Errorf("unfiltered list = %d entries", got)
	}
	downloads := m.List(types.KindDownload)
	if len(downloads) != 1 || downloads[0].TaskID != "d1" {
		t.Errorf("filtered list = %+v", downloads)
	}
}
