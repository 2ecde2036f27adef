package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EdisAganovic/musicremoval/internal/download"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

func newDownloadCmd() *cobra.Command {
	var (
		separate bool
		format   string
		formatID string
		subs     string
	)

	cmd := &cobra.Command{
		Use:   "download <url> [filename]",
		Short: "Download a remote video, optionally separating it afterwards",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			filename := ""
			if len(args) == 2 {
				filename = args[1]
			}
			if format != download.FormatAudio && format != download.FormatVideo {
				return usageError{fmt.Errorf("invalid --format %q", format)}
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			jobID := a.Queue.DownloadNow(download.Request{
				URL:        url,
				Filename:   filename,
				FormatKind: format,
				FormatID:   formatID,
				Subtitles:  subs,
			}, false)

			if err := waitForJobs(a, []string{jobID}); err != nil {
				return err
			}
			if !separate {
				return nil
			}

			snap, err := a.Jobs.Snapshot(jobID)
			if err != nil || len(snap.ResultFiles) == 0 {
				return fmt.Errorf("download finished but no file was recorded")
			}
			sepID := a.Pool.Submit(snap.ResultFiles[0], pipeline.Options{Model: types.ModelBoth})
			return waitForJobs(a, []string{sepID})
		},
	}

	cmd.Flags().BoolVar(&separate, "separate", false, "submit the downloaded file for separation")
	cmd.Flags().StringVar(&format, "format", download.FormatVideo, "audio or video")
	cmd.Flags().StringVar(&formatID, "format-id", "", "explicit yt-dlp format id")
	cmd.Flags().StringVar(&subs, "subtitles", "", "subtitle language code, or 'all'")
	return cmd
}
