package handlers

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/EdisAganovic/musicremoval/internal/config"
	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/storage"
)

// StatusHandler serves job snapshots and the live progress feed.
type StatusHandler struct {
	manager *jobs.Manager
	events  *jobs.EventBus
}

func NewStatusHandler(manager *jobs.Manager, events *jobs.EventBus) *StatusHandler {
	return &StatusHandler{manager: manager, events: events}
}

// HandleStatus returns one job snapshot.
func (h *StatusHandler) HandleStatus(c *fiber.Ctx) error {
	snap, err := h.manager.Snapshot(c.Params("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "Job not found", "code": "ERR_NOT_FOUND"})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(snap)
}

// HandleList returns snapshots of all jobs, optionally filtered by
// ?kind=separate|download.
func (h *StatusHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(h.manager.List(c.Query("kind")))
}

// HandleCancel cancels a job by id in the path.
func (h *StatusHandler) HandleCancel(c *fiber.Ctx) error {
	switch err := h.manager.Cancel(c.Params("job_id")); {
	case err == nil:
		return c.JSON(fiber.Map{"status": "accepted"})
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		return c.JSON(fiber.Map{"status": "already_terminal"})
	default:
		return c.Status(404).JSON(fiber.Map{"error": "Job not found", "code": "ERR_NOT_FOUND"})
	}
}

// HandleProgressWS streams sequenced job events over a websocket,
// draining the bus twice a second. A failed write means the peer is
// gone.
func (h *StatusHandler) HandleProgressWS(c *websocket.Conn) {
	defer c.Close()

	var lastSeq int64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for _, ev := range h.events.Since(lastSeq) {
			if err := c.WriteJSON(ev); err != nil {
				return
			}
			lastSeq = ev.Seq
		}
	}
}

// LibraryHandler serves completed results.
type LibraryHandler struct {
	library *storage.Library
}

func NewLibraryHandler(library *storage.Library) *LibraryHandler {
	return &LibraryHandler{library: library}
}

// HandleList returns all completed items, newest first.
func (h *LibraryHandler) HandleList(c *fiber.Ctx) error {
	entries, err := h.library.List()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(entries)
}

// HandleDelete removes a result file from disk and its library record.
func (h *LibraryHandler) HandleDelete(c *fiber.Ctx) error {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if req.TaskID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "task_id is required", "code": "ERR_NO_TASK"})
	}

	files, err := h.library.Delete(req.TaskID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to delete %s: %v", f, err)
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// PresetsHandler exposes the remux preset configuration.
type PresetsHandler struct {
	presets *config.PresetStore
}

func NewPresetsHandler(presets *config.PresetStore) *PresetsHandler {
	return &PresetsHandler{presets: presets}
}

// HandleList returns the available presets and the active selector.
func (h *PresetsHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"presets":        h.presets.List(),
		"current_preset": h.presets.CurrentName(),
	})
}

// HandleSelect switches the active preset.
func (h *PresetsHandler) HandleSelect(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if err := h.presets.Select(req.Name); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error(), "code": "ERR_UNKNOWN_PRESET"})
	}
	return c.JSON(fiber.Map{"current_preset": h.presets.CurrentName()})
}
