package detect

import (
	"context"
	"log/slog"

	"github.com/maauso/subclean-api/internal/region"
)

// Motion detector defaults.
const (
	DefaultMotionSamples = 50
	DefaultPixelDelta    = 30
)

// Compile-time check that MotionDetector implements Detector.
var _ Detector = (*MotionDetector)(nil)

// MotionDetector watches the bottom quarter of the picture for sudden
// changes between samples. It only tells when subtitles change, so regions
// carry a coarse band box.
type MotionDetector struct {
	media      StripSampler
	params     region.Params
	logger     *slog.Logger
	samples    int
	pixelDelta int
}

// MotionOption configures a MotionDetector.
type MotionOption func(*MotionDetector)

// WithMotionSamples sets how many frames are compared across the video.
func WithMotionSamples(n int) MotionOption {
	return func(d *MotionDetector) {
		if n > 1 {
			d.samples = n
		}
	}
}

// WithPixelDelta sets the luma difference above which a pixel counts as changed.
func WithPixelDelta(delta int) MotionOption {
	return func(d *MotionDetector) {
		if delta > 0 {
			d.pixelDelta = delta
		}
	}
}

// WithMotionParams sets the region engine tuning.
func WithMotionParams(p region.Params) MotionOption {
	return func(d *MotionDetector) {
		d.params = p
	}
}

// NewMotionDetector creates a motion-based detector.
func NewMotionDetector(m StripSampler, logger *slog.Logger, opts ...MotionOption) *MotionDetector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &MotionDetector{
		media:      m,
		params:     region.DefaultParams(),
		logger:     logger,
		samples:    DefaultMotionSamples,
		pixelDelta: DefaultPixelDelta,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect computes change ratios between consecutive strips and turns bursts
// of change into regions.
func (d *MotionDetector) Detect(ctx context.Context, videoPath string) (*region.Analysis, error) {
	info, err := d.media.Probe(ctx, videoPath)
	if err != nil {
		return nil, unavailable("probe video: %v", err)
	}
	if info.TotalFrames <= 0 {
		return nil, unavailable("no frames in %s", videoPath)
	}

	step := max(1, info.TotalFrames/d.samples)
	strips, err := d.media.BottomStrips(ctx, videoPath, step)
	if err != nil {
		return nil, unavailable("extract strips: %v", err)
	}

	samples := make([]region.MotionSample, 0, len(strips))
	for i := 1; i < len(strips); i++ {
		samples = append(samples, region.MotionSample{
			FrameNo:     strips[i].FrameNo,
			ChangeRatio: changeRatio(strips[i-1].Data, strips[i].Data, d.pixelDelta),
		})
	}

	engine := region.NewEngine(d.params, info.Video())
	a := engine.Motion(samples)
	a.Merge(d.params.MergeFrames)

	d.logger.Info("motion detection finished",
		slog.String("video", videoPath),
		slog.Int("samples", len(samples)),
		slog.Int("regions", len(a.Regions)),
	)
	return a, nil
}

// changeRatio is the fraction of pixels whose value moved by more than delta.
func changeRatio(prev, cur []byte, delta int) float64 {
	n := min(len(prev), len(cur))
	if n == 0 {
		return 0
	}
	changed := 0
	for i := 0; i < n; i++ {
		diff := int(prev[i]) - int(cur[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > delta {
			changed++
		}
	}
	return float64(changed) / float64(n)
}
