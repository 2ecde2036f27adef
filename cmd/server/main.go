package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/EdisAganovic/musicremoval/internal/app"
	"github.com/EdisAganovic/musicremoval/internal/config"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing components...")
	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	router := a.Router()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /separate          - Upload a file for vocal separation")
	log.Println("   POST /separate-file     - Separate an existing file")
	log.Println("   POST /folder/scan       - Scan a folder for processable files")
	log.Println("   POST /download          - Download a remote video")
	log.Println("   POST /yt-formats        - Probe remote URL formats")
	log.Println("   GET  /queue             - Download queue snapshot")
	log.Println("   GET  /status/:job_id    - Job status")
	log.Println("   GET  /library           - Completed results")
	log.Println("   GET  /ws/progress       - Live progress feed")
	log.Println("   GET  /logs              - Recent server logs")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		router.Shutdown()
	}()

	if err := router.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
