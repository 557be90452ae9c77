// Package inpaint runs subtitle removal for one video: it builds per-frame
// masks from regions, sends masked frame batches to a remote inpainting model
// and stitches the results into the output file.
package inpaint

import (
	"context"
	"errors"

	"github.com/maauso/subclean-api/internal/region"
)

// Static errors for worker execution.
var (
	// ErrOutputMissing is returned when the worker finished but no output file exists.
	ErrOutputMissing = errors.New("inpaint: output file not generated")
	// ErrEmptyVideo is returned for videos without decodable frames.
	ErrEmptyVideo = errors.New("inpaint: video has no frames")
	// ErrRemoteFailed is returned when the remote model reports a failure.
	ErrRemoteFailed = errors.New("inpaint: remote job failed")
)

// ProgressFunc receives completion percentages in [0,100].
type ProgressFunc func(percent float64)

// Job describes one inpainting run.
type Job struct {
	// TaskID identifies the owning task in logs.
	TaskID string
	// VideoPath is the source video.
	VideoPath string
	// OutputPath is where the processed video is written.
	OutputPath string
	// Boxes are masked on every frame.
	Boxes []region.Box
	// Regions are masked only within their frame spans.
	Regions []region.TimedRegion
	// Algorithm selects the remote inpainting strategy.
	Algorithm string
	// ConfigOverride is passed to the remote model as-is.
	ConfigOverride map[string]any
}

// Worker executes inpainting jobs. Implementations must stop between frame
// batches once ctx is done and report progress through the callback.
type Worker interface {
	Run(ctx context.Context, job Job, progress ProgressFunc) error
}
