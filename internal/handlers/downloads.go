package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/EdisAganovic/musicremoval/internal/download"
	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/queue"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// DownloadHandler drives direct downloads and the remote URL probe.
type DownloadHandler struct {
	queue   *queue.DownloadQueue
	driver  *download.Driver
	manager *jobs.Manager
}

func NewDownloadHandler(q *queue.DownloadQueue, driver *download.Driver, manager *jobs.Manager) *DownloadHandler {
	return &DownloadHandler{queue: q, driver: driver, manager: manager}
}

// DownloadRequest starts one immediate download.
type DownloadRequest struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	Format       string `json:"format"`
	FormatID     string `json:"format_id"`
	Subtitles    string `json:"subtitles"`
	AutoSeparate bool   `json:"auto_separate"`
}

// HandleDownload starts a download job and returns immediately.
func (h *DownloadHandler) HandleDownload(c *fiber.Ctx) error {
	var req DownloadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if req.URL == "" {
		return c.Status(400).JSON(fiber.Map{"error": "URL is required", "code": "ERR_NO_URL"})
	}

	jobID := h.queue.DownloadNow(download.Request{
		URL:        req.URL,
		Filename:   req.Filename,
		FormatKind: req.Format,
		FormatID:   req.FormatID,
		Subtitles:  req.Subtitles,
	}, req.AutoSeparate)

	return c.JSON(fiber.Map{"job_id": jobID})
}

// HandleCancel cancels a live job (download or separation).
func (h *DownloadHandler) HandleCancel(c *fiber.Ctx) error {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}

	switch err := h.manager.Cancel(req.JobID); {
	case err == nil:
		return c.JSON(fiber.Map{"status": "accepted"})
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		return c.JSON(fiber.Map{"status": "already_terminal"})
	default:
		return c.Status(404).JSON(fiber.Map{"error": "Job not found", "code": "ERR_NOT_FOUND"})
	}
}

// HandleFormats probes a remote URL for formats or playlist entries.
func (h *DownloadHandler) HandleFormats(c *fiber.Ctx) error {
	var req struct {
		URL           string `json:"url"`
		CheckPlaylist bool   `json:"check_playlist"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if req.URL == "" {
		return c.Status(400).JSON(fiber.Map{"error": "URL is required", "code": "ERR_NO_URL"})
	}

	res, err := h.driver.FetchFormats(c.Context(), req.URL, req.CheckPlaylist)
	if err != nil {
		return c.Status(502).JSON(fiber.Map{"error": err.Error(), "code": "ERR_PROBE_FAILED"})
	}

	if res.IsPlaylist {
		return c.JSON(fiber.Map{
			"is_playlist": true,
			"videos":      res.Videos,
			"video_count": res.VideoCount,
		})
	}
	return c.JSON(res.Video)
}

// QueueHandler drives the persistent download queue.
type QueueHandler struct {
	queue *queue.DownloadQueue
}

func NewQueueHandler(q *queue.DownloadQueue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// QueueAddRequest enqueues one download.
type QueueAddRequest struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Format       string `json:"format"`
	FormatID     string `json:"format_id"`
	Subtitles    string `json:"subtitles"`
	AutoSeparate bool   `json:"auto_separate"`
}

func (r QueueAddRequest) item() types.QueueItem {
	return types.QueueItem{
		URL:          r.URL,
		Title:        r.Title,
		FormatKind:   r.Format,
		FormatID:     r.FormatID,
		Subtitles:    r.Subtitles,
		AutoSeparate: r.AutoSeparate,
	}
}

// HandleAdd appends one item to the queue.
func (h *QueueHandler) HandleAdd(c *fiber.Ctx) error {
	var req QueueAddRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if req.URL == "" {
		return c.Status(400).JSON(fiber.Map{"error": "URL is required", "code": "ERR_NO_URL"})
	}
	queueID := h.queue.Add(req.item())
	return c.JSON(fiber.Map{"queue_id": queueID})
}

// HandleAddBatch appends several videos sharing the same options.
func (h *QueueHandler) HandleAddBatch(c *fiber.Ctx) error {
	var req struct {
		Videos []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"videos"`
		Format       string `json:"format"`
		FormatID     string `json:"format_id"`
		Subtitles    string `json:"subtitles"`
		AutoSeparate bool   `json:"auto_separate"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if len(req.Videos) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "videos is required", "code": "ERR_NO_URL"})
	}

	items := make([]types.QueueItem, 0, len(req.Videos))
	for _, v := range req.Videos {
		if v.URL == "" {
			continue
		}
		items = append(items, types.QueueItem{
			URL:          v.URL,
			Title:        v.Title,
			FormatKind:   req.Format,
			FormatID:     req.FormatID,
			Subtitles:    req.Subtitles,
			AutoSeparate: req.AutoSeparate,
		})
	}
	ids := h.queue.AddBatch(items)
	return c.JSON(fiber.Map{"added": len(ids)})
}

// HandleRemove drops a pending item.
func (h *QueueHandler) HandleRemove(c *fiber.Ctx) error {
	var req struct {
		QueueID string `json:"queue_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if err := h.queue.Remove(req.QueueID); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error(), "code": "ERR_REMOVE_FAILED"})
	}
	return c.JSON(h.queue.Snapshot())
}

// HandleClear removes completed and failed items.
func (h *QueueHandler) HandleClear(c *fiber.Ctx) error {
	h.queue.ClearDone()
	return c.JSON(h.queue.Snapshot())
}

// HandleStart enables the dispatcher.
func (h *QueueHandler) HandleStart(c *fiber.Ctx) error {
	h.queue.Start()
	return c.JSON(h.queue.Snapshot())
}

// HandleStop disables the dispatcher without cancelling the in-flight
// download.
func (h *QueueHandler) HandleStop(c *fiber.Ctx) error {
	h.queue.Stop()
	return c.JSON(h.queue.Snapshot())
}

// HandleList returns the queue snapshot.
func (h *QueueHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(h.queue.Snapshot())
}
