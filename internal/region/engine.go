package region

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MotionSample is the change ratio between one sampled frame and the previous one.
type MotionSample struct {
	FrameNo     int     `json:"frame_no"`
	ChangeRatio float64 `json:"change_ratio"`
}

// Engine consolidates detection output for one video.
type Engine struct {
	params Params
	video  Video
}

// NewEngine creates an engine for the given video geometry.
func NewEngine(p Params, v Video) *Engine {
	return &Engine{params: p, video: v}
}

// Video returns the geometry the engine clips against.
func (e *Engine) Video() Video {
	return e.video
}

// Cluster groups hits spatially and emits one region per cluster.
//
// Clustering is greedy and order dependent: a hit joins the first cluster
// whose seed is within tolerance on x, y, width and height independently,
// otherwise it seeds a new cluster. This keeps the pass linear in clusters
// for sparse or anomalous hit sets.
func (e *Engine) Cluster(hits []Hit) *Analysis {
	if len(hits) == 0 {
		return Empty(e.video)
	}

	tol := e.params.ClusterTolerance
	var clusters [][]Hit
	for _, h := range hits {
		placed := false
		for i, c := range clusters {
			seed := c[0]
			if absInt(h.X-seed.X) < tol &&
				absInt(h.Y-seed.Y) < tol &&
				absInt(h.Width-seed.Width) < tol &&
				absInt(h.Height-seed.Height) < tol {
				clusters[i] = append(c, h)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []Hit{h})
		}
	}

	half := e.halfSpan(e.params.DisplaySeconds)
	regions := make([]TimedRegion, 0, len(clusters))
	for _, c := range clusters {
		first, last := c[0].FrameNo, c[0].FrameNo
		var sx, sy, sw, sh int
		var conf float64
		texts := make([]string, 0, len(c))
		for _, h := range c {
			first = min(first, h.FrameNo)
			last = max(last, h.FrameNo)
			sx += h.X
			sy += h.Y
			sw += h.Width
			sh += h.Height
			conf += h.Confidence
			texts = append(texts, h.Text)
		}
		n := len(c)
		r := TimedRegion{
			StartFrame: first - half,
			EndFrame:   last + half,
			X:          sx / n,
			Y:          sy / n,
			Width:      sw / n,
			Height:     sh / n,
			Confidence: conf / float64(n),
			Text:       label(first, last, texts),
		}
		if clipped, ok := e.clip(r); ok {
			regions = append(regions, clipped)
		}
	}
	return NewAnalysis(regions, e.video)
}

// Bucket groups hits into fixed time windows and emits the union box of every
// window holding enough hits. Windows are emitted in ascending time order.
func (e *Engine) Bucket(hits []Hit) *Analysis {
	if len(hits) == 0 {
		return Empty(e.video)
	}

	size := int(e.video.FPS * e.params.BucketSeconds)
	if size < 1 {
		size = 1
	}

	buckets := make(map[int][]Hit)
	for _, h := range hits {
		k := h.FrameNo / size
		buckets[k] = append(buckets[k], h)
	}
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	half := e.halfSpan(e.params.BucketDisplaySeconds)
	regions := make([]TimedRegion, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		if len(b) < e.params.MinBucketHits {
			continue
		}
		first, last := b[0].FrameNo, b[0].FrameNo
		x1, y1 := b[0].X, b[0].Y
		x2, y2 := b[0].X+b[0].Width, b[0].Y+b[0].Height
		texts := make([]string, 0, len(b))
		for _, h := range b {
			first = min(first, h.FrameNo)
			last = max(last, h.FrameNo)
			x1 = min(x1, h.X)
			y1 = min(y1, h.Y)
			x2 = max(x2, h.X+h.Width)
			y2 = max(y2, h.Y+h.Height)
			texts = append(texts, h.Text)
		}
		r := TimedRegion{
			StartFrame: first - half,
			EndFrame:   last + half,
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
			Confidence: e.params.BucketConfidence,
			Text:       label(first, last, texts),
		}
		if clipped, ok := e.clip(r); ok {
			regions = append(regions, clipped)
		}
	}
	return NewAnalysis(regions, e.video)
}

// Motion turns a change-ratio series into regions over the lower part of
// the frame. Motion only proves when something changed, so the box is a
// fixed band rather than derived from the change map.
func (e *Engine) Motion(samples []MotionSample) *Analysis {
	if len(samples) == 0 {
		return Empty(e.video)
	}

	gap := int(math.Round(e.video.FPS * e.params.MotionGapSeconds))
	var segments [][]int
	var current []int
	for _, s := range samples {
		if s.ChangeRatio <= e.params.MotionThreshold {
			continue
		}
		if len(current) > 0 && s.FrameNo-current[len(current)-1] > gap {
			segments = append(segments, current)
			current = nil
		}
		current = append(current, s.FrameNo)
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}

	half := e.halfSpan(e.params.DisplaySeconds)
	band := e.motionBand()
	regions := make([]TimedRegion, 0, len(segments))
	for _, seg := range segments {
		if len(seg) < e.params.MinMotionEvents {
			continue
		}
		first, last := seg[0], seg[len(seg)-1]
		r := TimedRegion{
			StartFrame: first - half,
			EndFrame:   last + half,
			X:          band.X,
			Y:          band.Y,
			Width:      band.Width,
			Height:     band.Height,
			Confidence: e.params.MotionConfidence,
			Text:       fmt.Sprintf("motion frames %d-%d", first, last),
		}
		if clipped, ok := e.clip(r); ok {
			regions = append(regions, clipped)
		}
	}
	return NewAnalysis(regions, e.video)
}

// PerHit expands every hit on its own into a region spanning the display
// time around its frame. Used for vision-model output, where each hit is
// already a confirmed subtitle and merging does the consolidation.
func (e *Engine) PerHit(hits []Hit) *Analysis {
	if len(hits) == 0 {
		return Empty(e.video)
	}
	half := e.halfSpan(e.params.DisplaySeconds)
	regions := make([]TimedRegion, 0, len(hits))
	for _, h := range hits {
		r := TimedRegion{
			StartFrame: h.FrameNo - half,
			EndFrame:   h.FrameNo + half,
			X:          h.X,
			Y:          h.Y,
			Width:      h.Width,
			Height:     h.Height,
			Confidence: h.Confidence,
			Text:       h.Text,
		}
		if clipped, ok := e.clip(r); ok {
			regions = append(regions, clipped)
		}
	}
	return NewAnalysis(regions, e.video)
}

// halfSpan converts a display time in seconds to the frames added on each side.
func (e *Engine) halfSpan(seconds float64) int {
	return int(math.Round(e.video.FPS*seconds)) / 2
}

// motionBand is the heuristic subtitle band: 10% in from the sides,
// starting at 80% of the height and 15% tall.
func (e *Engine) motionBand() TimedRegion {
	w, h := e.video.Width, e.video.Height
	return TimedRegion{
		X:      w / 10,
		Y:      h * 8 / 10,
		Width:  w * 8 / 10,
		Height: h * 15 / 100,
	}
}

// clip bounds a region to the video. It reports false when nothing is left.
func (e *Engine) clip(r TimedRegion) (TimedRegion, bool) {
	return Clip(r, e.video)
}

// Clip bounds a region's frame span and box to the video geometry. It
// reports false when the region has no frames or no area left.
func Clip(r TimedRegion, v Video) (TimedRegion, bool) {
	r.StartFrame = max(r.StartFrame, 0)
	if v.TotalFrames > 0 {
		r.EndFrame = min(r.EndFrame, v.TotalFrames-1)
	}
	if r.EndFrame < r.StartFrame {
		return r, false
	}

	x2, y2 := r.X+r.Width, r.Y+r.Height
	r.X = max(r.X, 0)
	r.Y = max(r.Y, 0)
	if v.Width > 0 {
		x2 = min(x2, v.Width)
	}
	if v.Height > 0 {
		y2 = min(y2, v.Height)
	}
	r.Width = x2 - r.X
	r.Height = y2 - r.Y
	if r.Width <= 0 || r.Height <= 0 {
		return r, false
	}
	return r, true
}

// label names a region by its frame span plus any text the detectors supplied.
func label(first, last int, texts []string) string {
	l := fmt.Sprintf("frames %d-%d", first, last)
	var seen []string
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" || contains(seen, t) {
			continue
		}
		seen = append(seen, t)
	}
	if len(seen) == 0 {
		return l
	}
	return l + ": " + strings.Join(seen, TextDelimiter)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
