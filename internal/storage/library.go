package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

// libraryCap bounds how many completed records are kept.
const libraryCap = 100

// Library persists completed job records in SQLite. Records whose first
// result file no longer exists are pruned on read.
type Library struct {
	db *sql.DB
}

// LibraryEntry is one completed job as served by GET /library.
type LibraryEntry struct {
	TaskID      string            `json:"task_id"`
	Kind        string            `json:"kind"`
	ResultFiles []string          `json:"result_files"`
	Metadata    *types.MediaProbe `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewLibrary opens (or creates) the library database.
func NewLibrary(dbPath string) (*Library, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open library database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS library (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		result_files TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_library_created_at ON library(created_at);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create library table: %v", err)
	}
	return &Library{db: db}, nil
}

// Save records a completed job, keeping at most libraryCap entries.
func (l *Library) Save(entry LibraryEntry) error {
	files, err := json.Marshal(entry.ResultFiles)
	if err != nil {
		return err
	}
	var meta []byte
	if entry.Metadata != nil {
		if meta, err = json.Marshal(entry.Metadata); err != nil {
			return err
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err = l.db.Exec(`
	INSERT INTO library (task_id, kind, result_files, metadata, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET result_files=excluded.result_files, metadata=excluded.metadata
	`, entry.TaskID, entry.Kind, string(files), string(meta), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save library entry: %v", err)
	}

	_, err = l.db.Exec(`
	DELETE FROM library WHERE id NOT IN (
		SELECT id FROM library ORDER BY created_at DESC, id DESC LIMIT ?
	)`, libraryCap)
	return err
}

// List returns entries newest first, pruning records whose first result
// file has disappeared.
func (l *Library) List() ([]LibraryEntry, error) {
	rows, err := l.db.Query(`
	SELECT task_id, kind, result_files, metadata, created_at
	FROM library ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %v", err)
	}
	defer rows.Close()

	entries := make([]LibraryEntry, 0)
	var stale []string
	for rows.Next() {
		var (
			entry     LibraryEntry
			filesJSON string
			metaJSON  sql.NullString
		)
		if err := rows.Scan(&entry.TaskID, &entry.Kind, &filesJSON, &metaJSON, &entry.CreatedAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(filesJSON), &entry.ResultFiles); err != nil {
			continue
		}
		if metaJSON.Valid && metaJSON.String != "" {
			var probe types.MediaProbe
			if json.Unmarshal([]byte(metaJSON.String), &probe) == nil {
				entry.Metadata = &probe
			}
		}
		if len(entry.ResultFiles) > 0 {
			if _, err := os.Stat(entry.ResultFiles[0]); err != nil {
				stale = append(stale, entry.TaskID)
				continue
			}
		}
		entries = append(entries, entry)
	}

	for _, id := range stale {
		l.db.Exec("DELETE FROM library WHERE task_id = ?", id)
	}
	return entries, nil
}

// Delete removes a record and returns the files it referenced so the
// caller can unlink them.
func (l *Library) Delete(taskID string) ([]string, error) {
	var filesJSON string
	err := l.db.QueryRow("SELECT result_files FROM library WHERE task_id = ?", taskID).Scan(&filesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	json.Unmarshal([]byte(filesJSON), &files)

	if _, err := l.db.Exec("DELETE FROM library WHERE task_id = ?", taskID); err != nil {
		return nil, err
	}
	return files, nil
}

// Close closes the database connection.
func (l *Library) Close() error {
	return l.db.Close()
}
