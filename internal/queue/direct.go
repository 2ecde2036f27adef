package queue

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/EdisAganovic/musicremoval/internal/download"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/storage"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// DownloadNow starts one download immediately, outside the FIFO. Used
// by the direct download endpoint; the queue dispatcher is not
// involved and no retry schedule applies.
func (q *DownloadQueue) DownloadNow(req download.Request, autoSeparate bool) string {
	jobID := uuid.New().String()
	q.manager.Create(jobID, types.KindDownload, req.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	q.manager.BindCancel(jobID, cancel)

	go func() {
		defer cancel()
		q.manager.Start(jobID)

		path, err := q.driver.Download(ctx, req, func(pct float64, step string) {
			q.manager.Progress(jobID, pct, step)
		})
		if err != nil {
			q.manager.Fail(jobID, err)
			return
		}

		probe, perr := q.toolkit.Probe(ctx, path)
		if perr != nil {
			log.Printf("Could not probe downloaded file %s: %v", path, perr)
		} else {
			q.manager.SetMetadata(jobID, probe)
		}
		q.manager.Complete(jobID, []string{path})

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
		if autoSeparate {
			sepID := q.pool.Submit(path, pipeline.Options{Model: types.ModelBoth})
			log.Printf("Auto-separate: submitted job %s for %s", sepID, path)
		}
	}()
	return jobID
}
