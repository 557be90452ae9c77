package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/subclean-api/internal/server"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var (
		algorithm  string
		process    bool
		autoDetect bool
		pushToS3   bool
		regions    []string
	)

	cmd := &cobra.Command{
		Use:   "upload VIDEO",
		Short: "Upload a video to the server and optionally start processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boxes, err := parseRegions(regions)
			if err != nil {
				return err
			}

			client := ctx.client()
			up, err := client.upload(cmd.Context(), args[0], algorithm)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !process && !autoDetect && len(boxes) == 0 {
				if ctx.useTable(out) {
					_, err := fmt.Fprintf(out, "Uploaded %s as task %s (%s)\n", up.Filename, up.TaskID, up.Status)
					return err
				}
				return writeJSON(out, up)
			}

			t, err := client.process(cmd.Context(), up.TaskID, server.ProcessRequest{
				AutoDetect:      autoDetect,
				SubtitleRegions: boxes,
				PushToS3:        pushToS3,
			})
			if err != nil {
				return fmt.Errorf("start processing task %s: %w", up.TaskID, err)
			}
			if ctx.useTable(out) {
				return renderTask(out, t)
			}
			return writeJSON(out, t)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&algorithm, "algorithm", "", "Inpainting algorithm: sttn, lama or propainter")
	flags.BoolVar(&process, "process", false, "Start processing right after the upload")
	flags.BoolVar(&autoDetect, "auto-detect", false, "Detect subtitle regions before inpainting (implies --process)")
	flags.BoolVar(&pushToS3, "push-s3", false, "Upload the result to S3 when processing completes")
	flags.StringArrayVar(&regions, "region", nil, "Static region x1,y1,x2,y2 (repeatable, implies --process)")

	return cmd
}

// parseRegions converts "x1,y1,x2,y2" flags into flat regions.
func parseRegions(values []string) ([][]float64, error) {
	out := make([][]float64, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid region %q: want x1,y1,x2,y2", v)
		}
		box := make([]float64, 0, 4)
		for _, p := range parts {
			n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid region %q: %w", v, err)
			}
			box = append(box, n)
		}
		out = append(out, box)
	}
	return out, nil
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage tasks on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTasksListCommand(ctx))
	cmd.AddCommand(newTasksShowCommand(ctx))
	cmd.AddCommand(newTasksStatsCommand(ctx))
	cmd.AddCommand(newTasksCancelCommand(ctx))
	cmd.AddCommand(newTasksDeleteCommand(ctx))
	cmd.AddCommand(newTasksDownloadCommand(ctx))
	return cmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var (
		status   string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := ctx.client().listTasks(cmd.Context(), status, page, pageSize)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.useTable(out) {
				return renderTasks(out, list)
			}
			return writeJSON(out, list)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only tasks in this status")
	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Tasks per page")
	return cmd
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := ctx.client().getTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.useTable(out) {
				return renderTask(out, t)
			}
			return writeJSON(out, t)
		},
	}
}

func newTasksStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count tasks by status and algorithm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.client().stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.useTable(out) {
				return renderStats(out, st)
			}
			return writeJSON(out, st)
		},
	}
}

func newTasksCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a processing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := ctx.client().cancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.useTable(out) {
				_, err := fmt.Fprintf(out, "Task %s cancelled\n", t.ID)
				return err
			}
			return writeJSON(out, t)
		},
	}
}

func newTasksDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a task and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().deleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Task %s deleted\n", args[0])
			return err
		},
	}
}

func newTasksDownloadCommand(ctx *commandContext) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "download ID",
		Short: "Download the processed video of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id := args[0]
			if outPath == "" {
				outPath = id + "_no_sub.mp4"
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "-" {
				f, createErr := os.Create(outPath) // #nosec G304 - path is supplied by the user
				if createErr != nil {
					return fmt.Errorf("create output file: %w", createErr)
				}
				defer func() {
					if cerr := f.Close(); err == nil && cerr != nil {
						err = fmt.Errorf("close output file: %w", cerr)
					}
					if err != nil {
						_ = os.Remove(outPath)
					}
				}()
				w = f
			}

			n, err := ctx.client().download(cmd.Context(), id, w)
			if err != nil {
				return err
			}
			if outPath != "-" {
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", n, outPath)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&outPath, "file", "f", "", "Output file, - for stdout (default <id>_no_sub.mp4)")
	return cmd
}
