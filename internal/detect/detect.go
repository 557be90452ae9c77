// Package detect finds hard subtitles in videos. Detectors sample frames,
// collect raw hits or change signals, and consolidate them into time-bounded
// regions with the region engine.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/subclean-api/internal/media"
	"github.com/maauso/subclean-api/internal/region"
)

// ErrDetectionUnavailable is returned when a detector cannot produce a result.
// Callers treat it as "no regions" rather than a task failure.
var ErrDetectionUnavailable = errors.New("detect: detection unavailable")

// Detector analyses one video.
type Detector interface {
	Detect(ctx context.Context, videoPath string) (*region.Analysis, error)
}

// Prober reads video metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// FrameSampler extracts still images for vision models.
type FrameSampler interface {
	Prober
	ExtractJPEG(ctx context.Context, path string, info media.Info, frames []int, maxWidth int) ([]media.Frame, error)
}

// StripSampler extracts low resolution grayscale strips for motion analysis.
type StripSampler interface {
	Prober
	BottomStrips(ctx context.Context, path string, step int) ([]media.Frame, error)
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDetectionUnavailable, fmt.Sprintf(format, args...))
}
