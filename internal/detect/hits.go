package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/maauso/subclean-api/internal/region"
)

// Mode selects how raw hits are consolidated.
type Mode string

const (
	// ModeCluster groups hits by position. Suits OCR style hits.
	ModeCluster Mode = "cluster"
	// ModeBucket groups hits by time window with a union box. Suits contour hits.
	ModeBucket Mode = "bucket"
	// ModePerHit expands every hit on its own.
	ModePerHit Mode = "perhit"
)

// ErrUnknownMode is returned for unrecognized consolidation modes.
var ErrUnknownMode = errors.New("detect: unknown consolidation mode")

// ParseMode converts a mode name. Empty selects ModeCluster.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModeCluster, nil
	case ModeCluster, ModeBucket, ModePerHit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// HitSource produces raw per-frame hits for a video.
type HitSource interface {
	Hits(ctx context.Context, videoPath string) ([]region.Hit, error)
}

// Compile-time check that ConsolidatingDetector implements Detector.
var _ Detector = (*ConsolidatingDetector)(nil)

// ConsolidatingDetector turns hits from any source into regions.
type ConsolidatingDetector struct {
	prober Prober
	source HitSource
	mode   Mode
	params region.Params
	logger *slog.Logger
}

// NewConsolidatingDetector creates a detector over a hit source. The prober
// supplies the geometry regions are clipped to.
func NewConsolidatingDetector(p Prober, src HitSource, mode Mode, params region.Params, logger *slog.Logger) *ConsolidatingDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsolidatingDetector{prober: p, source: src, mode: mode, params: params, logger: logger}
}

// Detect consolidates the source's hits with the configured mode.
func (d *ConsolidatingDetector) Detect(ctx context.Context, videoPath string) (*region.Analysis, error) {
	info, err := d.prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, unavailable("probe video: %v", err)
	}
	hits, err := d.source.Hits(ctx, videoPath)
	if err != nil {
		return nil, unavailable("read hits: %v", err)
	}
	return Consolidate(hits, d.mode, d.params, info.Video())
}

// Consolidate runs one engine mode over hits and merges the result.
func Consolidate(hits []region.Hit, mode Mode, params region.Params, v region.Video) (*region.Analysis, error) {
	engine := region.NewEngine(params, v)
	var a *region.Analysis
	switch mode {
	case ModeCluster, "":
		a = engine.Cluster(hits)
	case ModeBucket:
		a = engine.Bucket(hits)
	case ModePerHit:
		a = engine.PerHit(hits)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	a.Merge(params.MergeFrames)
	return a, nil
}

// Compile-time check that FileHitSource implements HitSource.
var _ HitSource = FileHitSource{}

// FileHitSource reads hits produced by an external tool from a JSON array
// next to the video, named <video>.hits.json, or from Path when set.
type FileHitSource struct {
	Path string
}

// Hits decodes the hit file for videoPath.
func (s FileHitSource) Hits(_ context.Context, videoPath string) ([]region.Hit, error) {
	path := s.Path
	if path == "" {
		path = videoPath + ".hits.json"
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is configured by the operator
	if err != nil {
		return nil, fmt.Errorf("read hit file: %w", err)
	}
	return DecodeHits(data)
}

// DecodeHits parses a JSON array of hits.
func DecodeHits(data []byte) ([]region.Hit, error) {
	var hits []region.Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}
	return hits, nil
}
