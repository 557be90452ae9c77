// Package media provides video probing, frame sampling and segment editing
// on top of the ffmpeg and ffprobe binaries.
package media

import (
	"math"

	"github.com/maauso/subclean-api/internal/region"
)

// Info is the stream geometry and timing of a video file.
type Info struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
	// Duration is the container duration in seconds.
	Duration float64
	HasAudio bool
}

// Video returns the frame geometry used for region clipping.
func (i Info) Video() region.Video {
	return region.Video{
		Width:       i.Width,
		Height:      i.Height,
		TotalFrames: i.TotalFrames,
		FPS:         i.FPS,
	}
}

// FrameTime converts a frame number to a timestamp in seconds.
func (i Info) FrameTime(frame int) float64 {
	if i.FPS <= 0 {
		return 0
	}
	return float64(frame) / i.FPS
}

// SampleFrames spreads up to n frame numbers evenly over the video, starting at 0.
func (i Info) SampleFrames(n int) []int {
	if n <= 0 || i.TotalFrames <= 0 {
		return nil
	}
	interval := max(1, i.TotalFrames/n)
	count := min(n, i.TotalFrames/interval)
	frames := make([]int, 0, count)
	for k := 0; k < count; k++ {
		frames = append(frames, k*interval)
	}
	return frames
}

// Frame is one decoded frame.
type Frame struct {
	// FrameNo is the frame number in the source video.
	FrameNo int
	// Data holds the encoded image or raw pixels, depending on the call.
	Data []byte
	// Scale is the factor applied to the source dimensions, 1 when unscaled.
	Scale float64
}

// Unscale maps a coordinate measured on a scaled frame back to source pixels.
func (f Frame) Unscale(v int) int {
	if f.Scale <= 0 || f.Scale == 1 {
		return v
	}
	return int(math.Round(float64(v) / f.Scale))
}
