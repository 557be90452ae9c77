// Package region turns noisy per-frame subtitle detection hits into a compact
// set of time-bounded, spatially stable regions that drive mask generation.
package region

import "fmt"

// SubtitleTypeHard marks text burned into the video pixels.
const SubtitleTypeHard = "hard"

// Hit is one detector observation of a possible subtitle box in one sampled frame.
type Hit struct {
	// FrameNo is the sampled frame index.
	FrameNo int `json:"frame_no"`
	// X is the left edge in pixels.
	X int `json:"x"`
	// Y is the top edge in pixels.
	Y int `json:"y"`
	// Width of the box in pixels.
	Width int `json:"width"`
	// Height of the box in pixels.
	Height int `json:"height"`
	// Confidence is the detector confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Text is the recognized content, if the detector supplied one.
	Text string `json:"text,omitempty"`
}

// TimedRegion is a consolidated bounding box believed to hold a stable
// subtitle between StartFrame and EndFrame, both inclusive.
type TimedRegion struct {
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

// ContainsFrame reports whether frame n falls inside the region's time span.
func (r TimedRegion) ContainsFrame(n int) bool {
	return n >= r.StartFrame && n <= r.EndFrame
}

// Box returns the region in worker bounding-box order.
func (r TimedRegion) Box() Box {
	return Box{XMin: r.X, XMax: r.X + r.Width, YMin: r.Y, YMax: r.Y + r.Height}
}

func (r TimedRegion) String() string {
	return fmt.Sprintf("[%d-%d] (%d,%d %dx%d) %.2f", r.StartFrame, r.EndFrame, r.X, r.Y, r.Width, r.Height, r.Confidence)
}

// Box is a bounding box in the order the inpainting worker consumes it.
type Box struct {
	XMin int `json:"xmin"`
	XMax int `json:"xmax"`
	YMin int `json:"ymin"`
	YMax int `json:"ymax"`
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() int {
	w, h := b.XMax-b.XMin, b.YMax-b.YMin
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Video describes the frame geometry regions are clipped against.
// Zero Width, Height or TotalFrames disables clipping on that axis.
type Video struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
}

// Analysis is the result of consolidating one video's detection output.
type Analysis struct {
	HasSubtitles bool          `json:"has_subtitles"`
	SubtitleType string        `json:"subtitle_type"`
	Regions      []TimedRegion `json:"regions"`
	TotalFrames  int           `json:"total_frames"`
	FPS          float64       `json:"fps"`
}

// NewAnalysis wraps regions in discovery order.
func NewAnalysis(regions []TimedRegion, v Video) *Analysis {
	if regions == nil {
		regions = []TimedRegion{}
	}
	return &Analysis{
		HasSubtitles: len(regions) > 0,
		SubtitleType: SubtitleTypeHard,
		Regions:      regions,
		TotalFrames:  v.TotalFrames,
		FPS:          v.FPS,
	}
}

// Empty returns the "no subtitles" analysis for a video.
func Empty(v Video) *Analysis {
	return NewAnalysis(nil, v)
}

// RegionsForFrame returns the regions active at frame n.
func (a *Analysis) RegionsForFrame(n int) []TimedRegion {
	var out []TimedRegion
	for _, r := range a.Regions {
		if r.ContainsFrame(n) {
			out = append(out, r)
		}
	}
	return out
}

// UniqueBoxes returns the distinct boxes across all regions, in first-seen order.
func (a *Analysis) UniqueBoxes() []Box {
	seen := make(map[Box]struct{}, len(a.Regions))
	out := make([]Box, 0, len(a.Regions))
	for _, r := range a.Regions {
		b := r.Box()
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}

// Merge replaces the regions with their overlap-merged consolidation.
func (a *Analysis) Merge(threshold int) {
	a.Regions = Merge(a.Regions, threshold)
	a.HasSubtitles = len(a.Regions) > 0
}
