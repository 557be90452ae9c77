package detect

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/maauso/subclean-api/internal/media"
	"github.com/maauso/subclean-api/internal/region"
)

// Image is one sampled frame sent to a vision model.
type Image struct {
	FrameNo int
	TimeSec float64
	// Data is JPEG encoded.
	Data []byte
}

// visionResponse is the JSON document vision models are asked to return.
type visionResponse struct {
	HasSubtitles bool          `json:"has_subtitles"`
	SubtitleType string        `json:"subtitle_type"`
	TimedRegions []visionRegion `json:"timed_regions"`
}

type visionRegion struct {
	FrameIndex  *int    `json:"frame_index"`
	FrameNo     int     `json:"frame_no"`
	TimeSec     float64 `json:"time_sec"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Confidence  float64 `json:"confidence"`
	TextContent string  `json:"text_content"`
	IsSubtitle  *bool   `json:"is_subtitle"`
}

// buildPrompt lists the sampled frames and describes the expected JSON.
func buildPrompt(images []Image) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following video frames and detect hard subtitles burned into the picture. ")
	sb.WriteString("For every subtitle you find, report the frame it appears in and its bounding box in pixels of that frame.\n\n")
	sb.WriteString("Frames, in the order the images are attached:\n")
	for i, img := range images {
		fmt.Fprintf(&sb, "Frame %d: frame_no=%d, time=%.2fs\n", i, img.FrameNo, img.TimeSec)
	}
	sb.WriteString(`
Respond with a JSON object in this exact shape:
{
  "has_subtitles": boolean,
  "subtitle_type": "hard",
  "timed_regions": [
    {
      "frame_index": int,       // index of the image in the list above, 0-based
      "frame_no": int,          // frame_no of that image
      "time_sec": float,
      "x": int,                 // left edge
      "y": int,                 // top edge
      "width": int,
      "height": int,
      "confidence": float,      // 0 to 1
      "text_content": string,   // recognized text, empty if unreadable
      "is_subtitle": boolean    // false for logos, UI or signage
    }
  ]
}

Rules:
1. Inspect every frame.
2. Subtitles usually sit at a fixed position near the bottom or top.
3. Do not report titles, watermarks, UI elements or text that is part of the scene.
4. When the text at one position changes, report each text as its own entry.
5. Confidence must reflect how sure you are.
Return ONLY the JSON object, no other text or markdown formatting.`)
	return sb.String()
}

// toImages pairs extracted frames with their timestamps.
func toImages(frames []media.Frame, info media.Info) []Image {
	images := make([]Image, 0, len(frames))
	for _, f := range frames {
		images = append(images, Image{FrameNo: f.FrameNo, TimeSec: info.FrameTime(f.FrameNo), Data: f.Data})
	}
	return images
}

// parseResponse decodes the model output into hits in source pixels.
// Entries flagged as not subtitles or below minConfidence are dropped, and so
// are entries pointing at a frame that was never sampled.
func parseResponse(text string, frames []media.Frame, minConfidence float64) (visionResponse, []region.Hit, error) {
	var resp visionResponse
	cleaned := cleanJSONResponse(text)
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return resp, nil, fmt.Errorf("parse model response: %w (response: %s)", err, truncateString(cleaned, 200))
	}

	hits := make([]region.Hit, 0, len(resp.TimedRegions))
	for _, r := range resp.TimedRegions {
		if r.IsSubtitle != nil && !*r.IsSubtitle {
			continue
		}
		if r.Confidence < minConfidence {
			continue
		}
		frame, ok := sampledFrame(r, frames)
		if !ok {
			continue
		}
		hits = append(hits, region.Hit{
			FrameNo:    frame.FrameNo,
			X:          frame.Unscale(r.X),
			Y:          frame.Unscale(r.Y),
			Width:      frame.Unscale(r.Width),
			Height:     frame.Unscale(r.Height),
			Confidence: r.Confidence,
			Text:       strings.TrimSpace(r.TextContent),
		})
	}
	return resp, hits, nil
}

// sampledFrame finds the frame a model entry refers to, by index first and
// frame number second. Entries matching no sampled frame cannot be mapped
// back to source pixels.
func sampledFrame(r visionRegion, frames []media.Frame) (media.Frame, bool) {
	if r.FrameIndex != nil && *r.FrameIndex >= 0 && *r.FrameIndex < len(frames) {
		return frames[*r.FrameIndex], true
	}
	for _, f := range frames {
		if f.FrameNo == r.FrameNo {
			return f, true
		}
	}
	return media.Frame{}, false
}

var jsonBlockRegex = regexp.MustCompile("```(?:json)?\\s*")

// cleanJSONResponse removes markdown fences models wrap JSON in.
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = jsonBlockRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
