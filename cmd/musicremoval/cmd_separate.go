package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/EdisAganovic/musicremoval/internal/app"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

func newSeparateCmd() *cobra.Command {
	var (
		file     string
		folder   string
		model    string
		duration float64
		keepTemp bool
	)

	cmd := &cobra.Command{
		Use:   "separate",
		Short: "Separate vocals from a file or every file in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (folder == "") {
				return usageError{fmt.Errorf("exactly one of --file or --folder is required")}
			}
			switch model {
			case types.ModelSpleeter, types.ModelDemucs, types.ModelBoth:
			default:
				return usageError{fmt.Errorf("invalid --model %q", model)}
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := pipeline.Options{Model: model, DurationLimit: duration, KeepTemp: keepTemp}

			var jobIDs []string
			if file != "" {
				if _, err := os.Stat(file); err != nil {
					return usageError{fmt.Errorf("input file not found: %s", file)}
				}
				jobIDs = append(jobIDs, a.Pool.Submit(file, opts))
			} else {
				batch, err := a.Batches.Scan(cmd.Context(), folder)
				if err != nil {
					return err
				}
				if len(batch.Items) == 0 {
					return fmt.Errorf("no processable media files in %s", folder)
				}
				batch, err = a.Batches.Process(batch.ID, model)
				if err != nil {
					return err
				}
				for _, item := range batch.Items {
					jobIDs = append(jobIDs, item.JobID)
				}
			}

			return waitForJobs(a, jobIDs)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "media file to process")
	cmd.Flags().StringVar(&folder, "folder", "", "folder to process")
	cmd.Flags().StringVar(&model, "model", types.ModelBoth, "spleeter, demucs or both")
	cmd.Flags().Float64Var(&duration, "duration", 0, "process only the first N seconds")
	cmd.Flags().BoolVar(&keepTemp, "keep-temp", false, "keep the job temp directory")
	return cmd
}

// waitForJobs polls job snapshots until every job is terminal, printing
// progress. SIGINT cancels the jobs and maps to exit code 130.
func waitForJobs(a *app.App, jobIDs []string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lastLine := make(map[string]string)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			for _, id := range jobIDs {
				a.Jobs.Cancel(id)
			}
			return errCancelled
		case <-ticker.C:
			allDone := true
			anyFailed := false
			for _, id := range jobIDs {
				snap, err := a.Jobs.Snapshot(id)
				if err != nil {
					continue
				}
				line := fmt.Sprintf("[%3d%%] %s", snap.Progress, snap.CurrentStep)
				changed := lastLine[id] != line
				if changed {
					fmt.Printf("%s %s\n", shortID(id), line)
					lastLine[id] = line
				}
				switch snap.Status {
				case types.StatusCompleted:
					if changed && len(snap.ResultFiles) > 0 {
						fmt.Printf("%s done: %s\n", shortID(id), snap.ResultFiles[0])
					}
				case types.StatusFailed:
					anyFailed = true
				case types.StatusCancelled:
					anyFailed = true
				default:
					allDone = false
				}
			}
			if allDone {
				if anyFailed {
					return fmt.Errorf("one or more jobs failed")
				}
				return nil
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
