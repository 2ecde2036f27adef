package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/tools"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// FormatInfo is one downloadable format reported by yt-dlp.
type FormatInfo struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"`
	VCodec     string `json:"vcodec,omitempty"`
	ACodec     string `json:"acodec,omitempty"`
	Note       string `json:"note,omitempty"`
	Filesize   int64  `json:"filesize,omitempty"`
	Label      string `json:"label"`
}

// VideoInfo summarizes one remote video.
type VideoInfo struct {
	ID        string       `json:"id"`
	URL       string       `json:"url,omitempty"`
	Title     string       `json:"title"`
	Thumbnail string       `json:"thumbnail,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	Subtitles []string     `json:"subtitles,omitempty"`
	Formats   []FormatInfo `json:"formats,omitempty"`
}

// FormatsResult is the response of a remote URL probe: either a single
// video with its formats or a playlist listing.
type FormatsResult struct {
	IsPlaylist bool        `json:"is_playlist"`
	Video      *VideoInfo  `json:"video,omitempty"`
	Videos     []VideoInfo `json:"videos,omitempty"`
	VideoCount int         `json:"video_count,omitempty"`
}

// ytdlpInfo matches the parts of `yt-dlp -J` output we consume.
type ytdlpInfo struct {
	Type       string      `json:"_type"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Thumbnail  string      `json:"thumbnail"`
	Duration   float64     `json:"duration"`
	WebpageURL string      `json:"webpage_url"`
	Entries    []ytdlpInfo `json:"entries"`
	Subtitles  map[string][]struct {
		Ext string `json:"ext"`
	} `json:"subtitles"`
	Formats []struct {
		FormatID   string  `json:"format_id"`
		Ext        string  `json:"ext"`
		Resolution string  `json:"resolution"`
		VCodec     string  `json:"vcodec"`
		ACodec     string  `json:"acodec"`
		FormatNote string  `json:"format_note"`
		Filesize   int64   `json:"filesize"`
		ABR        float64 `json:"abr"`
	} `json:"formats"`
}

// FetchFormats probes a remote URL. With checkPlaylist set, playlist
// URLs return a flat listing instead of formats for the first entry.
func (d *Driver) FetchFormats(ctx context.Context, url string, checkPlaylist bool) (*FormatsResult, error) {
	ytdlp, err := d.Locator.Locate(ctx, tools.YtDlp)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	args := []string{"-J", "--no-warnings"}
	if checkPlaylist {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, ytdlp, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, classify(stderr.String(), &types.PipelineError{
			Kind:      types.KindDownloadFailed,
			Message:   "could not probe remote URL",
			Transient: true,
			Cmd: types.CommandLog{
				Command:    ytdlp,
				Args:       args,
				ExitCode:   exitCode(cmd),
				StderrTail: media.Tail(stderr.Bytes(), 2048),
			},
			Err: err,
		})
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, types.NewError(types.KindDownloadFailed, "malformed yt-dlp JSON: %v", err)
	}

	if info.Type == "playlist" {
		res := &FormatsResult{IsPlaylist: true, VideoCount: len(info.Entries)}
		for _, e := range info.Entries {
			res.Videos = append(res.Videos, VideoInfo{
				ID:        e.ID,
				URL:       e.WebpageURL,
				Title:     e.Title,
				Thumbnail: e.Thumbnail,
				Duration:  e.Duration,
			})
		}
		return res, nil
	}

	video := &VideoInfo{
		ID:        info.ID,
		URL:       info.WebpageURL,
		Title:     info.Title,
		Thumbnail: info.Thumbnail,
		Duration:  info.Duration,
	}
	for lang := range info.Subtitles {
		video.Subtitles = append(video.Subtitles, lang)
	}
	for _, f := range info.Formats {
		fi := FormatInfo{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			Note:       f.FormatNote,
			Filesize:   f.Filesize,
		}
		fi.Label = formatLabel(f.Ext, f.Resolution, f.FormatNote, f.VCodec)
		video.Formats = append(video.Formats, fi)
	}
	return &FormatsResult{Video: video}, nil
}

func formatLabel(ext, resolution, note, vcodec string) string {
	if vcodec == "none" {
		return fmt.Sprintf("Audio: %s (%s)", ext, note)
	}
	return fmt.Sprintf("%s - %s (%s)", ext, resolution, note)
}

// IsPlaylistURL is a cheap syntactic playlist check used before probing.
func IsPlaylistURL(url string) bool {
	if strings.Contains(url, "/playlist?") {
		return true
	}
	if strings.Contains(url, "list=") {
		for _, prefix := range []string{"list=PL", "list=UU", "list=RD", "list=LL"} {
			if strings.Contains(url, prefix) {
				return true
			}
		}
	}
	return false
}
