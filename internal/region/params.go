package region

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidParams is returned when tuning values are out of range.
var ErrInvalidParams = errors.New("region: invalid params")

// Params tunes the consolidation heuristics.
type Params struct {
	// ClusterTolerance is the per-dimension pixel tolerance for spatial clustering.
	ClusterTolerance int `toml:"cluster_tolerance"`
	// DisplaySeconds is the assumed subtitle display time for clusters, motion
	// segments and single hits. Half of it is added on each side of a span.
	DisplaySeconds float64 `toml:"display_seconds"`
	// BucketSeconds is the width of a temporal bucket.
	BucketSeconds float64 `toml:"bucket_seconds"`
	// BucketDisplaySeconds is the display time assumed for bucket regions.
	BucketDisplaySeconds float64 `toml:"bucket_display_seconds"`
	// MinBucketHits is the minimum hit count for a bucket to become a region.
	MinBucketHits int `toml:"min_bucket_hits"`
	// BucketConfidence is assigned to every bucket region.
	BucketConfidence float64 `toml:"bucket_confidence"`
	// MotionThreshold is the change ratio above which a sample is an event.
	MotionThreshold float64 `toml:"motion_threshold"`
	// MotionGapSeconds closes a motion segment when exceeded between events.
	MotionGapSeconds float64 `toml:"motion_gap_seconds"`
	// MinMotionEvents is the minimum event count for a segment to become a region.
	MinMotionEvents int `toml:"min_motion_events"`
	// MotionConfidence is assigned to every motion region.
	MotionConfidence float64 `toml:"motion_confidence"`
	// MergeFrames is the time threshold of the overlap merge, in frames.
	MergeFrames int `toml:"merge_frames"`
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		ClusterTolerance:     50,
		DisplaySeconds:       2.5,
		BucketSeconds:        2,
		BucketDisplaySeconds: 3,
		MinBucketHits:        2,
		BucketConfidence:     0.7,
		MotionThreshold:      0.10,
		MotionGapSeconds:     5,
		MinMotionEvents:      2,
		MotionConfidence:     0.6,
		MergeFrames:          DefaultMergeFrames,
	}
}

// Validate checks that every value is usable.
func (p Params) Validate() error {
	switch {
	case p.ClusterTolerance <= 0:
		return fmt.Errorf("%w: cluster_tolerance must be positive", ErrInvalidParams)
	case p.DisplaySeconds < 0, p.BucketDisplaySeconds < 0:
		return fmt.Errorf("%w: display seconds must not be negative", ErrInvalidParams)
	case p.BucketSeconds <= 0:
		return fmt.Errorf("%w: bucket_seconds must be positive", ErrInvalidParams)
	case p.MinBucketHits < 1, p.MinMotionEvents < 1:
		return fmt.Errorf("%w: minimum counts must be at least 1", ErrInvalidParams)
	case p.MotionThreshold < 0 || p.MotionThreshold > 1:
		return fmt.Errorf("%w: motion_threshold must be in [0,1]", ErrInvalidParams)
	case p.MotionGapSeconds <= 0:
		return fmt.Errorf("%w: motion_gap_seconds must be positive", ErrInvalidParams)
	case p.MergeFrames < 0:
		return fmt.Errorf("%w: merge_frames must not be negative", ErrInvalidParams)
	}
	return nil
}

// LoadParams reads tuning overrides from a TOML file on top of the defaults.
// An empty path returns the defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return Params{}, fmt.Errorf("open tuning file: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(&p); err != nil {
		return Params{}, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
