package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/EdisAganovic/musicremoval/internal/app"
	"github.com/EdisAganovic/musicremoval/internal/config"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// CLI exit codes.
const (
	exitOK        = 0
	exitFatal     = 1
	exitUsage     = 2
	exitCancelled = 130
)

// errCancelled marks a user-interrupted run for the exit code mapping.
var errCancelled = errors.New("cancelled")

var (
	configPath string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "musicremoval",
		Short:         "Vocal separation service and CLI",
		Long:          "Removes music from media files by isolating vocals with two AI separators.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSeparateCmd())
	root.AddCommand(newDownloadCmd())
	return root
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		switch {
		case errors.Is(err, errCancelled):
			fmt.Fprintln(os.Stderr, "cancelled")
			return exitCancelled
		case isUsageError(err):
			fmt.Fprintln(os.Stderr, "error:", err)
			return exitUsage
		default:
			fmt.Fprintln(os.Stderr, "error:", summarize(err))
			return exitFatal
		}
	}
	return exitOK
}

// usageError wraps argument validation failures.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }

func isUsageError(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

// summarize prints a single line plus the captured stderr tail when the
// failure came from a subprocess.
func summarize(err error) string {
	var pe *types.PipelineError
	if errors.As(err, &pe) && pe.Cmd.StderrTail != "" {
		return fmt.Sprintf("%v\n--- %s stderr ---\n%s", pe, pe.Cmd.Command, pe.Cmd.StderrTail)
	}
	return err.Error()
}

func buildApp() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			addr := fmt.Sprintf("%s:%d", a.Cfg.Server.Host, a.Cfg.Server.Port)
			log.Printf("Server starting on %s", addr)
			return a.Router().Listen(addr)
		},
	}
}
