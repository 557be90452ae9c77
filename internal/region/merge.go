package region

import (
	"sort"
	"strings"
)

// DefaultMergeFrames is the default maximum gap, in frames, bridged by Merge.
const DefaultMergeFrames = 10

// TextDelimiter joins texts of merged regions.
const TextDelimiter = " | "

// Spatial tolerances for two regions to be considered the same subtitle.
const (
	mergeDX = 20
	mergeDY = 20
	mergeDW = 30
	mergeDH = 20
)

// Merge consolidates regions that describe the same subtitle across adjacent
// time spans. Regions are stably sorted by start frame, then each candidate
// is folded into the last accepted region when their boxes are within the
// spatial tolerances and the candidate starts at most threshold frames after
// the last one ends. Merge is idempotent on its own output. The input slice
// is left untouched.
func Merge(regions []TimedRegion, threshold int) []TimedRegion {
	if len(regions) == 0 {
		return []TimedRegion{}
	}

	sorted := make([]TimedRegion, len(regions))
	copy(sorted, regions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartFrame < sorted[j].StartFrame
	})

	out := make([]TimedRegion, 0, len(sorted))
	out = append(out, sorted[0])
	for _, cand := range sorted[1:] {
		last := &out[len(out)-1]
		if !mergeable(*last, cand, threshold) {
			out = append(out, cand)
			continue
		}
		last.EndFrame = cand.EndFrame
		last.Confidence = (last.Confidence + cand.Confidence) / 2
		if cand.Text != "" && !strings.Contains(last.Text, cand.Text) {
			if last.Text == "" {
				last.Text = cand.Text
			} else {
				last.Text += TextDelimiter + cand.Text
			}
		}
	}
	return out
}

func mergeable(last, cand TimedRegion, threshold int) bool {
	return absInt(cand.X-last.X) <= mergeDX &&
		absInt(cand.Y-last.Y) <= mergeDY &&
		absInt(cand.Width-last.Width) <= mergeDW &&
		absInt(cand.Height-last.Height) <= mergeDH &&
		cand.StartFrame-last.EndFrame <= threshold
}
