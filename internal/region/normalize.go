package region

import (
	"errors"
	"fmt"
)

// Errors reported for rejected flat region entries.
var (
	// ErrWrongArity is reported for entries that do not hold exactly four values.
	ErrWrongArity = errors.New("region: entry must have exactly 4 values")
	// ErrZeroArea is reported for entries with no area left after clipping.
	ErrZeroArea = errors.New("region: entry has zero area")
)

// Rejected describes a flat region entry that was skipped.
type Rejected struct {
	Index int
	Err   error
}

func (r Rejected) Error() string {
	return fmt.Sprintf("region %d: %v", r.Index, r.Err)
}

func (r Rejected) Unwrap() error {
	return r.Err
}

// NormalizeFlat converts caller supplied [x1,y1,x2,y2] entries, given in any
// corner order, into worker boxes. Malformed entries are skipped and returned
// as rejections so one bad entry never fails the whole request. A zero Video
// skips clipping.
func NormalizeFlat(entries [][]float64, v Video) ([]Box, []Rejected) {
	boxes := make([]Box, 0, len(entries))
	var rejected []Rejected
	for i, e := range entries {
		if len(e) != 4 {
			rejected = append(rejected, Rejected{Index: i, Err: ErrWrongArity})
			continue
		}
		x1, y1, x2, y2 := int(e[0]), int(e[1]), int(e[2]), int(e[3])
		b := Box{
			XMin: min(x1, x2),
			XMax: max(x1, x2),
			YMin: min(y1, y2),
			YMax: max(y1, y2),
		}
		b = ClipBox(b, v)
		if b.Area() == 0 {
			rejected = append(rejected, Rejected{Index: i, Err: ErrZeroArea})
			continue
		}
		boxes = append(boxes, b)
	}
	return boxes, rejected
}

// ClipBox bounds a box to the frame. Zero dimensions disable clipping.
func ClipBox(b Box, v Video) Box {
	b.XMin = max(b.XMin, 0)
	b.YMin = max(b.YMin, 0)
	if v.Width > 0 {
		b.XMax = min(b.XMax, v.Width)
	}
	if v.Height > 0 {
		b.YMax = min(b.YMax, v.Height)
	}
	return b
}

// ToFlat converts regions to the caller-facing [x1,y1,x2,y2] form.
func ToFlat(regions []TimedRegion) [][]float64 {
	out := make([][]float64, 0, len(regions))
	for _, r := range regions {
		out = append(out, []float64{
			float64(r.X), float64(r.Y),
			float64(r.X + r.Width), float64(r.Y + r.Height),
		})
	}
	return out
}
