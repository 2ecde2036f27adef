package queue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

// newIdleQueue builds a queue over a temp file without drivers; the
// dispatcher never picks anything up because the queue is stopped.
func newIdleQueue(t *testing.T) (*DownloadQueue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "download_queue.json")
	q := NewDownloadQueue(path, 1, nil, nil, nil, nil, nil)
	return q, path
}

func readQueueFile(t *testing.T, path string) queueFile {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read queue file: %v", err)
	}
	var f queueFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal queue file: %v", err)
	}
	return f
}

func TestAddPersistsAtomically(t *testing.T) {
	q, path := newIdleQueue(t)

	id := q.Add(types.QueueItem{URL: "https://example.com/v1", FormatKind: "video"})
	if id == "" {
		t.Fatal("no queue id assigned")
	}

	f := readQueueFile(t, path)
	if len(f.Items) != 1 || f.Items[0].QueueID != id {
		t.Fatalf("persisted items = %+v", f.Items)
	}
	if f.Items[0].Status != types.QueuePending {
		t.Errorf("status = %s, want pending", f.Items[0].Status)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestDiskStateMatchesMemoryAfterEveryMutation(t *testing.T) {
	q, path := newIdleQueue(t)

	q.Add(types.QueueItem{URL: "a"})
	id2 := q.Add(types.QueueItem{URL: "b"})
	q.Add(types.QueueItem{URL: "c"})

	check := func() {
		t.Helper()
		mem := q.Snapshot()
		disk := readQueueFile(t, path)
		if len(mem.Queue) != len(disk.Items) {
			t.Fatalf("memory %d items, disk %d", len(mem.Queue), len(disk.Items))
		}
		for i := range mem.Queue {
			if mem.Queue[i].QueueID != disk.Items[i].QueueID {
				t.Fatalf("order mismatch at %d", i)
			}
		}
	}
	check()

	if err := q.Remove(id2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	check()

	q.Start()
	check()
	q.Stop()
	check()
}

func TestRemoveOnlyPending(t *testing.T) {
	q, _ := newIdleQueue(t)
	id := q.Add(types.QueueItem{URL: "a"})

	// Flip to completed behind the scenes.
	q.mu.Lock()
	q.items[0].Status = types.QueueCompleted
	q.mu.Unlock()

	if err := q.Remove(id); !errors.Is(err, ErrNotRemovable) {
		t.Errorf("Remove completed item = %v, want ErrNotRemovable", err)
	}
	if err := q.Remove("unknown"); err == nil {
		t.Error("removing unknown id must fail")
	}
}

func TestClearDone(t *testing.T) {
	q, _ := newIdleQueue(t)
	q.Add(types.QueueItem{URL: "a"})
	q.Add(types.QueueItem{URL: "b"})
	q.Add(types.QueueItem{URL: "c"})

	q.mu.Lock()
	q.items[0].Status = types.QueueCompleted
	q.items[1].Status = types.QueueFailed
	q.mu.Unlock()

	q.ClearDone()
	snap := q.Snapshot()
	if len(snap.Queue) != 1 || snap.Queue[0].URL != "c" {
		t.Errorf("after ClearDone: %+v", snap.Queue)
	}
}

func TestRehydrationPreservesOrderAndAttempts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_queue.json")

	seed := queueFile{
		Running: true,
		Items: []*types.QueueItem{
			{QueueID: "q1", URL: "a", Status: types.QueueCompleted},
			{QueueID: "q2", URL: "b", Status: types.QueueDownloading, AttemptCount: 2},
			{QueueID: "q3", URL: "c", Status: types.QueuePending},
		},
	}
	data, _ := json.Marshal(&seed)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	q := &DownloadQueue{path: path, wake: make(chan struct{}, 1)}
	q.load()

	if !q.running {
		t.Error("running flag lost across restart")
	}
	if len(q.items) != 3 {
		t.Fatalf("items = %d", len(q.items))
	}
	// The interrupted download goes back to pending, keeping its count.
	if q.items[1].Status != types.QueuePending || q.items[1].AttemptCount != 2 {
		t.Errorf("interrupted item = %+v", q.items[1])
	}
	if q.items[0].Status != types.QueueCompleted {
		t.Error("completed item must stay completed")
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if q.items[i].QueueID != want {
			t.Errorf("order broken at %d: %s", i, q.items[i].QueueID)
		}
	}
}

func TestStoppedQueueDoesNotPick(t *testing.T) {
	q, _ := newIdleQueue(t)
	q.Add(types.QueueItem{URL: "a"})

	if item := q.nextPending(); item != nil {
		t.Error("stopped queue handed out an item")
	}

	q.mu.Lock()
	q.running = true
	q.mu.Unlock()
	item := q.nextPending()
	if item == nil {
		t.Fatal("running queue should hand out the pending item")
	}
	if item.Status != types.QueueDownloading {
		t.Errorf("picked item status = %s", item.Status)
	}

	// FIFO: nothing else pending.
	if q.nextPending() != nil {
		t.Error("no second pending item expected")
	}
}

func TestCorruptQueueFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_queue.json")
	os.WriteFile(path, []byte("{broken"), 0o644)

	q := &DownloadQueue{path: path, wake: make(chan struct{}, 1)}
	q.load()
	if len(q.items) != 0 || q.running {
		t.Errorf("corrupt file should yield an empty stopped queue")
	}
}
