// Package app wires the service together: config, tool locator, stores,
// worker pools and the HTTP router. Both the server binary and the CLI
// build on it.
package app

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/EdisAganovic/musicremoval/internal/cleanup"
	"github.com/EdisAganovic/musicremoval/internal/config"
	"github.com/EdisAganovic/musicremoval/internal/download"
	"github.com/EdisAganovic/musicremoval/internal/handlers"
	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/queue"
	"github.com/EdisAganovic/musicremoval/internal/separator"
	"github.com/EdisAganovic/musicremoval/internal/storage"
	"github.com/EdisAganovic/musicremoval/internal/tools"
)

// LogBuffer captures recent log lines in memory for GET /logs.
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}
	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// App owns every long-lived component of the service.
type App struct {
	Cfg      *config.Config
	Presets  *config.PresetStore
	Locator  *tools.Locator
	Toolkit  *media.Toolkit
	Events   *jobs.EventBus
	Jobs     *jobs.Manager
	Library  *storage.Library
	Drive    *storage.DriveClient
	Pipeline *pipeline.Pipeline
	Pool     *queue.SeparationPool
	Queue    *queue.DownloadQueue
	Batches  *queue.BatchManager
	Cleanup  *cleanup.Scheduler
	Logs     *LogBuffer
}

// New assembles the application from config. Worker pools and the
// download dispatcher are started; call Close on shutdown.
func New(cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg, Logs: &LogBuffer{}}
	log.SetOutput(io.MultiWriter(os.Stdout, a.Logs))

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.Storage.DownloadDir, cfg.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	a.Presets = config.LoadPresets(cfg.Storage.PresetsFile)
	a.Locator = tools.NewLocator(cfg.Tools.BinDir, cfg.Tools.AllowFetch, map[tools.Tool]string{
		tools.FFmpeg:  cfg.Tools.FFmpegURL,
		tools.FFprobe: cfg.Tools.FFprobeURL,
		tools.YtDlp:   cfg.Tools.YtDlpURL,
	})
	a.Toolkit = media.NewToolkit(a.Locator)

	library, err := storage.NewLibrary(cfg.Storage.LibraryDB)
	if err != nil {
		return nil, err
	}
	a.Library = library

	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		drive, err := storage.NewDriveClient(
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive backup not available: %v", err)
		} else {
			log.Println("Google Drive backup enabled")
			a.Drive = drive
		}
	}

	a.Events = jobs.NewEventBus(500)
	a.Jobs = jobs.NewManager(a.Events)

	useGPU := tools.CUDAAvailable()
	workers := a.Presets.DemucsWorkers()
	a.Pipeline = &pipeline.Pipeline{
		Cfg:      cfg,
		Presets:  a.Presets,
		Toolkit:  a.Toolkit,
		Spleeter: separator.NewSpleeter(a.Toolkit, workers, useGPU),
		Demucs:   separator.NewDemucs(a.Toolkit, workers, useGPU),
		Jobs:     a.Jobs,
		Library:  a.Library,
		Drive:    a.Drive,
	}

	a.Pool = queue.NewSeparationPool(cfg.Workers.Separation, a.Pipeline, a.Jobs)
	a.Pool.Start()

	driver := download.NewDriver(a.Locator, cfg.Storage.DownloadDir)
	a.Queue = queue.NewDownloadQueue(cfg.Storage.QueueFile, cfg.Workers.Download, a.Toolkit, driver, a.Jobs, a.Pool, a.Library)
	a.Batches = queue.NewBatchManager(a.Toolkit, a.Pool, a.Jobs)

	a.Cleanup = cleanup.NewScheduler(cfg.Storage.TempDir, cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours)
	a.Cleanup.Start()

	return a, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Cleanup != nil {
		a.Cleanup.Stop()
	}
	if a.Library != nil {
		a.Library.Close()
	}
}

// Router builds the Fiber application with every endpoint registered.
func (a *App) Router() *fiber.App {
	router := fiber.New(fiber.Config{
		BodyLimit: a.Cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	router.Use(recover.New())
	router.Use(fiberlogger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadDir := filepath.Join(a.Cfg.Storage.TempDir, "uploads")
	separateHandler := handlers.NewSeparateHandler(a.Pool, a.Toolkit, uploadDir, a.Cfg.Limits.MaxFileSizeMB)
	folderHandler := handlers.NewFolderHandler(a.Batches)
	downloadDriver := download.NewDriver(a.Locator, a.Cfg.Storage.DownloadDir)
	downloadHandler := handlers.NewDownloadHandler(a.Queue, downloadDriver, a.Jobs)
	queueHandler := handlers.NewQueueHandler(a.Queue)
	statusHandler := handlers.NewStatusHandler(a.Jobs, a.Events)
	libraryHandler := handlers.NewLibraryHandler(a.Library)
	presetsHandler := handlers.NewPresetsHandler(a.Presets)

	router.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	router.Post("/separate", separateHandler.HandleUpload)
	router.Post("/separate-file", separateHandler.HandleFile)

	router.Post("/folder/scan", folderHandler.HandleScan)
	router.Post("/folder-queue/process", folderHandler.HandleProcess)
	router.Post("/folder-queue/remove", folderHandler.HandleRemove)
	router.Get("/batch-status/:batch_id", folderHandler.HandleStatus)

	router.Post("/download", downloadHandler.HandleDownload)
	router.Post("/download/cancel", downloadHandler.HandleCancel)
	router.Post("/yt-formats", downloadHandler.HandleFormats)

	router.Post("/queue/add", queueHandler.HandleAdd)
	router.Post("/queue/add-batch", queueHandler.HandleAddBatch)
	router.Post("/queue/remove", queueHandler.HandleRemove)
	router.Post("/queue/clear", queueHandler.HandleClear)
	router.Post("/queue/start", queueHandler.HandleStart)
	router.Post("/queue/stop", queueHandler.HandleStop)
	router.Get("/queue", queueHandler.HandleList)

	router.Get("/status/:job_id", statusHandler.HandleStatus)
	router.Post("/cancel/:job_id", statusHandler.HandleCancel)
	router.Get("/jobs", statusHandler.HandleList)
	router.Get("/ws/progress", websocket.New(statusHandler.HandleProgressWS))

	router.Get("/library", libraryHandler.HandleList)
	router.Post("/library/delete", libraryHandler.HandleDelete)

	router.Get("/presets", presetsHandler.HandleList)
	router.Post("/presets/select", presetsHandler.HandleSelect)

	router.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"logs": a.Logs.GetLogs()})
	})

	return router
}
