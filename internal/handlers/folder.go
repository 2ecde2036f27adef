package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/EdisAganovic/musicremoval/internal/queue"
)

// FolderHandler drives the folder batch queue.
type FolderHandler struct {
	batches *queue.BatchManager
}

func NewFolderHandler(batches *queue.BatchManager) *FolderHandler {
	return &FolderHandler{batches: batches}
}

// HandleScan lists processable files in a folder.
func (h *FolderHandler) HandleScan(c *fiber.Ctx) error {
	var req struct {
		FolderPath string `json:"folder_path"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if req.FolderPath == "" {
		return c.Status(400).JSON(fiber.Map{"error": "folder_path is required", "code": "ERR_NO_FOLDER"})
	}

	batch, err := h.batches.Scan(c.Context(), req.FolderPath)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error(), "code": "ERR_SCAN_FAILED"})
	}
	return c.JSON(fiber.Map{
		"queue_id": batch.ID,
		"files":    batch.Items,
	})
}

// HandleProcess launches separation for every selected item.
func (h *FolderHandler) HandleProcess(c *fiber.Ctx) error {
	var req struct {
		QueueID string `json:"queue_id"`
		Model   string `json:"model"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	model, ok := normalizeModel(req.Model)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "model must be spleeter, demucs or both", "code": "ERR_INVALID_MODEL"})
	}

	batch, err := h.batches.Process(req.QueueID, model)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error(), "code": "ERR_UNKNOWN_BATCH"})
	}
	return c.JSON(fiber.Map{
		"batch_id": batch.ID,
		"files":    batch.Items,
	})
}

// HandleRemove drops an unprocessed item from a batch.
func (h *FolderHandler) HandleRemove(c *fiber.Ctx) error {
	var req struct {
		QueueID string `json:"queue_id"`
		FileID  string `json:"file_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}

	batch, err := h.batches.Remove(req.QueueID, req.FileID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error(), "code": "ERR_REMOVE_FAILED"})
	}
	return c.JSON(fiber.Map{"files": batch.Items})
}

// HandleStatus returns the aggregate batch snapshot.
func (h *FolderHandler) HandleStatus(c *fiber.Ctx) error {
	status, err := h.batches.Status(c.Params("batch_id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error(), "code": "ERR_UNKNOWN_BATCH"})
	}
	return c.JSON(status)
}
