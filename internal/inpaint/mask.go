package inpaint

import "github.com/maauso/subclean-api/internal/region"

// Mask is a box active over an inclusive frame span. Frames are relative to
// the batch the mask is sent with.
type Mask struct {
	XMin       int `json:"xmin"`
	XMax       int `json:"xmax"`
	YMin       int `json:"ymin"`
	YMax       int `json:"ymax"`
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`
}

// MaskPlan answers which boxes are masked on which frames.
type MaskPlan struct {
	static []region.Box
	timed  []region.TimedRegion
}

// NewMaskPlan clips the inputs to the video and drops anything left empty.
func NewMaskPlan(static []region.Box, timed []region.TimedRegion, v region.Video) MaskPlan {
	var p MaskPlan
	for _, b := range static {
		b = region.ClipBox(b, v)
		if b.Area() > 0 {
			p.static = append(p.static, b)
		}
	}
	for _, r := range timed {
		if c, ok := region.Clip(r, v); ok {
			p.timed = append(p.timed, c)
		}
	}
	return p
}

// Empty reports whether the plan masks nothing. The remote model then scans
// whole frames on its own.
func (p MaskPlan) Empty() bool {
	return len(p.static) == 0 && len(p.timed) == 0
}

// BoxesAt returns the boxes masked on frame n.
func (p MaskPlan) BoxesAt(n int) []region.Box {
	out := append([]region.Box(nil), p.static...)
	for _, r := range p.timed {
		if r.ContainsFrame(n) {
			out = append(out, r.Box())
		}
	}
	return out
}

// Masks returns the masks overlapping frames [start, end), relative to start.
func (p MaskPlan) Masks(start, end int) []Mask {
	if end <= start {
		return nil
	}
	last := end - 1 - start
	var out []Mask
	for _, b := range p.static {
		out = append(out, maskOf(b, 0, last))
	}
	for _, r := range p.timed {
		if r.EndFrame < start || r.StartFrame > end-1 {
			continue
		}
		from := max(r.StartFrame, start) - start
		to := min(r.EndFrame, end-1) - start
		out = append(out, maskOf(r.Box(), from, to))
	}
	return out
}

func maskOf(b region.Box, from, to int) Mask {
	return Mask{
		XMin:       b.XMin,
		XMax:       b.XMax,
		YMin:       b.YMin,
		YMax:       b.YMax,
		StartFrame: from,
		EndFrame:   to,
	}
}
