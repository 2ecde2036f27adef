// Package handlers exposes the HTTP surface. Handlers never touch the
// media toolchain directly; they validate, submit to the core, and
// return snapshots.
package handlers

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/queue"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// SeparateHandler handles separation submissions.
type SeparateHandler struct {
	pool      *queue.SeparationPool
	toolkit   *media.Toolkit
	uploadDir string
	maxSizeMB int
}

func NewSeparateHandler(pool *queue.SeparationPool, toolkit *media.Toolkit, uploadDir string, maxSizeMB int) *SeparateHandler {
	return &SeparateHandler{pool: pool, toolkit: toolkit, uploadDir: uploadDir, maxSizeMB: maxSizeMB}
}

func normalizeModel(model string) (string, bool) {
	switch model {
	case "":
		return types.ModelBoth, true
	case types.ModelSpleeter, types.ModelDemucs, types.ModelBoth:
		return model, true
	}
	return "", false
}

// HandleUpload accepts a multipart upload and enqueues a separation job.
func (h *SeparateHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	model, ok := normalizeModel(c.FormValue("model"))
	if !ok {
		return c.Status(400).JSON(fiber.Map{
			"error": "model must be spleeter, demucs or both",
			"code":  "ERR_INVALID_MODEL",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}
	if !media.IsMediaFile(file.Filename) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported media format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to prepare upload dir", "code": "ERR_SAVE_FAILED"})
	}
	savedPath := filepath.Join(h.uploadDir, fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(file.Filename)))
	if err := c.SaveFile(file, savedPath); err != nil {
		log.Printf("Failed to save uploaded file: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	probe, err := h.toolkit.Probe(c.Context(), savedPath)
	if err != nil {
		log.Printf("Probe of uploaded file failed: %v", err)
	}

	jobID := h.pool.Submit(savedPath, pipeline.Options{Model: model})
	return c.JSON(fiber.Map{
		"job_id":   jobID,
		"metadata": probe,
	})
}

// SeparateFileRequest selects an existing file on disk.
type SeparateFileRequest struct {
	FilePath string `json:"file_path"`
	Model    string `json:"model"`
}

// HandleFile enqueues separation of a library file.
func (h *SeparateHandler) HandleFile(c *fiber.Ctx) error {
	var req SeparateFileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
	}
	if req.FilePath == "" {
		return c.Status(400).JSON(fiber.Map{"error": "file_path is required", "code": "ERR_NO_FILE"})
	}
	if !media.FileNonEmpty(req.FilePath) {
		return c.Status(404).JSON(fiber.Map{"error": "File not found", "code": "ERR_NOT_FOUND"})
	}

	model, ok := normalizeModel(req.Model)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "model must be spleeter, demucs or both", "code": "ERR_INVALID_MODEL"})
	}

	probe, err := h.toolkit.Probe(c.Context(), req.FilePath)
	if err != nil {
		log.Printf("Probe of %s failed: %v", req.FilePath, err)
	}

	jobID := h.pool.Submit(req.FilePath, pipeline.Options{Model: model})
	return c.JSON(fiber.Map{
		"job_id":   jobID,
		"metadata": probe,
	})
}
