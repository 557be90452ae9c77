// Package cli implements the subclean command line tool. It runs detectors
// locally against a video file and drives a running API server over HTTP.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/subclean-api/internal/task"
)

// Output formats accepted by --output.
const (
	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
)

const defaultServer = "http://localhost:8080"

// DetectorFactory builds the detector used by the detect command.
type DetectorFactory func(ctx context.Context, s DetectSettings, logger *slog.Logger) (task.Detector, error)

type commandContext struct {
	serverFlag  string
	outputFlag  string
	verboseFlag bool

	httpClient  *http.Client
	newDetector DetectorFactory
}

// NewRootCommand returns the subclean command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&http.Client{Timeout: 30 * time.Minute}, defaultDetectorFactory)
}

func newRootCommand(client *http.Client, factory DetectorFactory) *cobra.Command {
	ctx := &commandContext{httpClient: client, newDetector: factory}

	rootCmd := &cobra.Command{
		Use:           "subclean",
		Short:         "Detect and remove hard subtitles from videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch ctx.outputFlag {
			case outputAuto, outputTable, outputJSON:
				return nil
			default:
				return fmt.Errorf("invalid --output %q: use auto, table or json", ctx.outputFlag)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("SUBCLEAN_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&ctx.serverFlag, "server", server, "API server base URL (env SUBCLEAN_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&ctx.outputFlag, "output", "o", outputAuto, "Output format: auto, table or json")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verboseFlag, "verbose", "v", false, "Log debug details to stderr")

	rootCmd.AddCommand(newDetectCommand(ctx))
	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newTasksCommand(ctx))

	return rootCmd
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if c.verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(strings.TrimRight(c.serverFlag, "/"), c.httpClient)
}

// useTable reports whether results go out as a table rather than JSON.
func (c *commandContext) useTable(w io.Writer) bool {
	switch c.outputFlag {
	case outputTable:
		return true
	case outputJSON:
		return false
	default:
		return isTerminal(w)
	}
}
