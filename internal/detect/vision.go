package detect

import (
	"context"
	"log/slog"

	"github.com/maauso/subclean-api/internal/region"
)

// Vision model defaults.
const (
	DefaultSampleFrames  = 30
	DefaultMaxWidth      = 1280
	DefaultMinConfidence = 0.5
)

// VisionModel sends a prompt with frames to a multimodal model and returns
// its raw text answer.
type VisionModel interface {
	Name() string
	Analyze(ctx context.Context, prompt string, images []Image) (string, error)
}

// Compile-time check that VisionDetector implements Detector.
var _ Detector = (*VisionDetector)(nil)

// VisionDetector asks a vision model where subtitles are on sampled frames.
// Each reported box becomes a region spanning the display time around its
// frame; overlapping regions are then merged.
type VisionDetector struct {
	media         FrameSampler
	model         VisionModel
	params        region.Params
	logger        *slog.Logger
	sampleFrames  int
	maxWidth      int
	minConfidence float64
}

// VisionOption configures a VisionDetector.
type VisionOption func(*VisionDetector)

// WithSampleFrames sets how many frames are sent to the model.
func WithSampleFrames(n int) VisionOption {
	return func(d *VisionDetector) {
		if n > 0 {
			d.sampleFrames = n
		}
	}
}

// WithMaxWidth sets the width frames are downscaled to before upload.
func WithMaxWidth(w int) VisionOption {
	return func(d *VisionDetector) {
		if w > 0 {
			d.maxWidth = w
		}
	}
}

// WithMinConfidence drops model hits below c.
func WithMinConfidence(c float64) VisionOption {
	return func(d *VisionDetector) {
		d.minConfidence = c
	}
}

// WithVisionParams sets the region engine tuning.
func WithVisionParams(p region.Params) VisionOption {
	return func(d *VisionDetector) {
		d.params = p
	}
}

// NewVisionDetector creates a detector backed by the given model.
func NewVisionDetector(m FrameSampler, model VisionModel, logger *slog.Logger, opts ...VisionOption) *VisionDetector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &VisionDetector{
		media:         m,
		model:         model,
		params:        region.DefaultParams(),
		logger:        logger,
		sampleFrames:  DefaultSampleFrames,
		maxWidth:      DefaultMaxWidth,
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect samples frames, queries the model and consolidates its hits.
func (d *VisionDetector) Detect(ctx context.Context, videoPath string) (*region.Analysis, error) {
	info, err := d.media.Probe(ctx, videoPath)
	if err != nil {
		return nil, unavailable("probe video: %v", err)
	}

	frames, err := d.media.ExtractJPEG(ctx, videoPath, info, info.SampleFrames(d.sampleFrames), d.maxWidth)
	if err != nil {
		return nil, unavailable("extract frames: %v", err)
	}
	if len(frames) == 0 {
		return nil, unavailable("no frames decoded from %s", videoPath)
	}

	logger := d.logger.With(slog.String("model", d.model.Name()), slog.String("video", videoPath))
	logger.Info("querying vision model", slog.Int("frames", len(frames)))

	images := toImages(frames, info)
	text, err := d.model.Analyze(ctx, buildPrompt(images), images)
	if err != nil {
		return nil, unavailable("%s: %v", d.model.Name(), err)
	}

	resp, hits, err := parseResponse(text, frames, d.minConfidence)
	if err != nil {
		return nil, unavailable("%s: %v", d.model.Name(), err)
	}

	engine := region.NewEngine(d.params, info.Video())
	a := engine.PerHit(hits)
	a.Merge(d.params.MergeFrames)

	logger.Info("vision detection finished",
		slog.Bool("model_has_subtitles", resp.HasSubtitles),
		slog.Int("hits", len(hits)),
		slog.Int("regions", len(a.Regions)),
	)
	return a, nil
}
