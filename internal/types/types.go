package types

import "time"

// Job status constants
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job kind constants
const (
	KindSeparate = "separate"
	KindDownload = "download"
)

// Model selection for separation jobs
const (
	ModelSpleeter = "spleeter"
	ModelDemucs   = "demucs"
	ModelBoth     = "both"
)

// AudioTrack is one audio stream found by ffprobe.
type AudioTrack struct {
	Index    int    `json:"index"`
	Language string `json:"language"`
	Codec    string `json:"codec"`
}

// MediaProbe is the metadata snapshot taken once per input file.
type MediaProbe struct {
	DurationSeconds float64      `json:"duration_seconds"`
	IsVideo         bool         `json:"is_video"`
	VideoCodec      string       `json:"video_codec,omitempty"`
	AudioCodec      string       `json:"audio_codec,omitempty"`
	Resolution      string       `json:"resolution,omitempty"`
	AudioTracks     []AudioTrack `json:"audio_tracks,omitempty"`
}

// JobSnapshot is the immutable status view returned to API clients.
// Field names are stable for the UI.
type JobSnapshot struct {
	TaskID      string      `json:"task_id"`
	Kind        string      `json:"kind"`
	Status      string      `json:"status"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"current_step"`
	ResultFiles []string    `json:"result_files"`
	Metadata    *MediaProbe `json:"metadata"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Download queue item statuses
const (
	QueuePending     = "pending"
	QueueDownloading = "downloading"
	QueueCompleted   = "completed"
	QueueFailed      = "failed"
)

// QueueItem is one entry in the persistent download queue.
type QueueItem struct {
	QueueID      string    `json:"queue_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	FormatKind   string    `json:"format"`
	FormatID     string    `json:"format_id,omitempty"`
	Subtitles    string    `json:"subtitles,omitempty"`
	AutoSeparate bool      `json:"auto_separate"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	AttemptCount int       `json:"attempt_count"`
	JobID        string    `json:"job_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	AddedAt      time.Time `json:"added_at"`
}

// Batch item statuses
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// BatchItem is one scanned file in a folder batch.
type BatchItem struct {
	FileID   string      `json:"file_id"`
	Path     string      `json:"path"`
	Name     string      `json:"name"`
	Selected bool        `json:"selected"`
	Status   string      `json:"status"`
	Progress int         `json:"progress"`
	JobID    string      `json:"job_id,omitempty"`
	Metadata *MediaProbe `json:"metadata,omitempty"`
}
