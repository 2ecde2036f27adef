package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Storage struct {
		TempDir     string `yaml:"temp_dir"`
		DownloadDir string `yaml:"download_dir"`
		OutputDir   string `yaml:"output_dir"`
		LibraryDB   string `yaml:"library_db"`
		QueueFile   string `yaml:"queue_file"`
		PresetsFile string `yaml:"presets_file"`
	} `yaml:"storage"`

	Workers struct {
		Separation int `yaml:"separation"`
		Download   int `yaml:"download"`
	} `yaml:"workers"`

	Tools struct {
		BinDir     string `yaml:"bin_dir"`
		AllowFetch bool   `yaml:"allow_fetch"`
		FFmpegURL  string `yaml:"ffmpeg_url"`
		FFprobeURL string `yaml:"ffprobe_url"`
		YtDlpURL   string `yaml:"ytdlp_url"`
	} `yaml:"tools"`

	Probe struct {
		LanguagePriority []string `yaml:"language_priority"`
	} `yaml:"probe"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`

	Debug struct {
		KeepTemp bool `yaml:"keep_temp"`
	} `yaml:"debug"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8000
	cfg.Storage.TempDir = "temp"
	cfg.Storage.DownloadDir = "download"
	cfg.Storage.OutputDir = "nomusic"
	cfg.Storage.LibraryDB = "library.db"
	cfg.Storage.QueueFile = "download_queue.json"
	cfg.Storage.PresetsFile = "video.json"
	cfg.Workers.Separation = 1
	cfg.Workers.Download = 1
	cfg.Tools.BinDir = "bin"
	cfg.Tools.AllowFetch = true
	cfg.Probe.LanguagePriority = []string{"hr", "hrv", "sr", "jpn"}
	cfg.Cleanup.IntervalMinutes = 60
	cfg.Cleanup.MaxAgeHours = 24
	cfg.Limits.MaxFileSizeMB = 2048
	return cfg
}

// Load reads the YAML config file, applying defaults for missing fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Workers.Separation < 1 {
		cfg.Workers.Separation = 1
	}
	if cfg.Workers.Download < 1 {
		cfg.Workers.Download = 1
	}
	return cfg, nil
}
