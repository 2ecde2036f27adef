package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	lib, err := NewLibrary(filepath.Join(dir, "library.db"))
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib, dir
}

func resultFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLibrarySaveAndList(t *testing.T) {
	lib, dir := newTestLibrary(t)
	out := resultFile(t, dir, "nomusic-clip.mp4")

	err := lib.Save(LibraryEntry{
		TaskID:      "task-1",
		Kind:        types.KindSeparate,
		ResultFiles: []string{out},
		Metadata:    &types.MediaProbe{DurationSeconds: 12.3, IsVideo: true},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := lib.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	got := entries[0]
	if got.TaskID != "task-1" || got.ResultFiles[0] != out {
		t.Errorf("entry = %+v", got)
	}
	if got.Metadata == nil || got.Metadata.DurationSeconds != 12.3 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
}

func TestLibraryPrunesStaleEntries(t *testing.T) {
	lib, dir := newTestLibrary(t)

	kept := resultFile(t, dir, "kept.mp4")
	gone := resultFile(t, dir, "gone.mp4")
	lib.Save(LibraryEntry{TaskID: "kept", Kind: types.KindSeparate, ResultFiles: []string{kept}})
	lib.Save(LibraryEntry{TaskID: "gone", Kind: types.KindSeparate, ResultFiles: []string{gone}})

	os.Remove(gone)

	entries, err := lib.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "kept" {
		t.Errorf("stale entry not pruned: %+v", entries)
	}

	// The prune is persistent.
	again, _ := lib.List()
	if len(again) != 1 {
		t.Errorf("second list = %d entries", len(again))
	}
}

func TestLibraryCap(t *testing.T) {
	lib, dir := newTestLibrary(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < libraryCap+10; i++ {
		out := resultFile(t, dir, fmt.Sprintf("out-%d.mp4", i))
		err := lib.Save(LibraryEntry{
			TaskID:      fmt.Sprintf("task-%d", i),
			Kind:        types.KindSeparate,
			ResultFiles: []string{out},
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	entries, err := lib.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != libraryCap {
		t.Fatalf("entries = %d, want %d", len(entries), libraryCap)
	}
	// The newest records survive.
	if entries[0].TaskID != fmt.Sprintf("task-%d", libraryCap+9) {
		t.Errorf("newest entry = %s", entries[0].TaskID)
	}
}

func TestLibraryDelete(t *testing.T) {
	lib, dir := newTestLibrary(t)
	out := resultFile(t, dir, "nomusic-x.mp4")
	lib.Save(LibraryEntry{TaskID: "task-1", Kind: types.KindSeparate, ResultFiles: []string{out}})

	files, err := lib.Delete("task-1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(files) != 1 || files[0] != out {
		t.Errorf("deleted files = %v", files)
	}

	entries, _ := lib.List()
	if len(entries) != 0 {
		t.Errorf("entry still listed after delete")
	}

	// Deleting an unknown id is a no-op.
	files, err = lib.Delete("nope")
	if err != nil || files != nil {
		t.Errorf("unknown delete = %v, %v", files, err)
	}
}
