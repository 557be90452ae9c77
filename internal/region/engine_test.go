package region

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hd = Video{Width: 1920, Height: 1080, TotalFrames: 1000, FPS: 25}

func TestEngine_EmptyInput(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)

	for name, a := range map[string]*Analysis{
		"cluster": e.Cluster(nil),
		"bucket":  e.Bucket(nil),
		"motion":  e.Motion(nil),
		"per hit": e.PerHit(nil),
	} {
		t.Run(name, func(t *testing.T) {
			require.NotNil(t, a)
			assert.False(t, a.HasSubtitles)
			assert.Empty(t, a.Regions)
			assert.Equal(t, SubtitleTypeHard, a.SubtitleType)
			assert.Equal(t, 1000, a.TotalFrames)
		})
	}
}

func TestEngine_Cluster_SingleCluster(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	hits := []Hit{
		{FrameNo: 0, X: 10, Y: 10, Width: 50, Height: 20, Confidence: 0.8},
		{FrameNo: 5, X: 12, Y: 11, Width: 49, Height: 21, Confidence: 0.6},
	}

	a := e.Cluster(hits)

	require.True(t, a.HasSubtitles)
	require.Len(t, a.Regions, 1)
	r := a.Regions[0]
	// round(25*2.5)/2 = 31 frames on each side, clipped at 0
	assert.Equal(t, 0, r.StartFrame)
	assert.Equal(t, 36, r.EndFrame)
	assert.Equal(t, 11, r.X)
	assert.Equal(t, 10, r.Y)
	assert.Equal(t, 49, r.Width)
	assert.Equal(t, 20, r.Height)
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)
	assert.Equal(t, "frames 0-5", r.Text)
}

func TestEngine_Cluster_DisjointClusters(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	hits := []Hit{
		{FrameNo: 100, X: 100, Y: 900, Width: 400, Height: 60, Confidence: 0.9, Text: "hello"},
		{FrameNo: 600, X: 800, Y: 100, Width: 300, Height: 50, Confidence: 0.9},
		{FrameNo: 110, X: 110, Y: 905, Width: 410, Height: 55, Confidence: 0.9, Text: "hello"},
	}

	a := e.Cluster(hits)

	require.Len(t, a.Regions, 2)
	assert.Equal(t, 100-31, a.Regions[0].StartFrame)
	assert.Equal(t, 110+31, a.Regions[0].EndFrame)
	assert.Equal(t, "frames 100-110: hello", a.Regions[0].Text)
	assert.Equal(t, 600-31, a.Regions[1].StartFrame)

	// far apart in time, so the merge pass keeps them separate
	merged := Merge(a.Regions, DefaultMergeFrames)
	assert.Len(t, merged, 2)
}

func TestEngine_Cluster_ToleranceIsStrict(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	hits := []Hit{
		{FrameNo: 0, X: 0, Y: 0, Width: 100, Height: 40},
		{FrameNo: 1, X: 50, Y: 0, Width: 100, Height: 40},
	}

	a := e.Cluster(hits)

	assert.Len(t, a.Regions, 2)
}

func TestEngine_Cluster_ComparesAgainstSeed(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	// the third hit is within tolerance of the second but not of the seed
	hits := []Hit{
		{FrameNo: 0, X: 0, Y: 500, Width: 100, Height: 40},
		{FrameNo: 1, X: 40, Y: 500, Width: 100, Height: 40},
		{FrameNo: 2, X: 80, Y: 500, Width: 100, Height: 40},
	}

	a := e.Cluster(hits)

	require.Len(t, a.Regions, 2)
	assert.Equal(t, 20, a.Regions[0].X)
	assert.Equal(t, 80, a.Regions[1].X)
}

func TestEngine_Bucket(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)

	tests := []struct {
		name    string
		hits    []Hit
		regions int
	}{
		{
			name:    "single hit bucket is noise",
			hits:    []Hit{{FrameNo: 10, X: 100, Y: 900, Width: 200, Height: 50}},
			regions: 0,
		},
		{
			name: "two hits in one bucket",
			hits: []Hit{
				{FrameNo: 10, X: 100, Y: 900, Width: 200, Height: 50},
				{FrameNo: 20, X: 150, Y: 880, Width: 300, Height: 40},
			},
			regions: 1,
		},
		{
			name: "hits split across buckets",
			hits: []Hit{
				{FrameNo: 10, X: 100, Y: 900, Width: 200, Height: 50},
				{FrameNo: 60, X: 150, Y: 880, Width: 300, Height: 40},
			},
			regions: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := e.Bucket(tt.hits)
			assert.Len(t, a.Regions, tt.regions)
			assert.Equal(t, tt.regions > 0, a.HasSubtitles)
		})
	}
}

func TestEngine_Bucket_TruncatesWindowSize(t *testing.T) {
	// int(29.97*2) = 59 frames per window, so frames 57-58 and 59-60 land in
	// different windows.
	e := NewEngine(DefaultParams(), Video{Width: 1920, Height: 1080, TotalFrames: 600, FPS: 29.97})
	hits := []Hit{
		{FrameNo: 57, X: 100, Y: 900, Width: 200, Height: 50},
		{FrameNo: 58, X: 100, Y: 900, Width: 200, Height: 50},
		{FrameNo: 59, X: 100, Y: 900, Width: 200, Height: 50},
		{FrameNo: 60, X: 100, Y: 900, Width: 200, Height: 50},
	}

	a := e.Bucket(hits)

	assert.Len(t, a.Regions, 2)
}

func TestEngine_Bucket_UnionBox(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	hits := []Hit{
		{FrameNo: 120, X: 150, Y: 880, Width: 300, Height: 40},
		{FrameNo: 10, X: 100, Y: 900, Width: 200, Height: 50},
		{FrameNo: 20, X: 150, Y: 880, Width: 300, Height: 40},
		{FrameNo: 130, X: 160, Y: 890, Width: 300, Height: 40},
	}

	a := e.Bucket(hits)

	require.Len(t, a.Regions, 2)
	r := a.Regions[0]
	// round(25*3)/2 = 37 frames on each side
	assert.Equal(t, 0, r.StartFrame)
	assert.Equal(t, 57, r.EndFrame)
	assert.Equal(t, 100, r.X)
	assert.Equal(t, 880, r.Y)
	assert.Equal(t, 350, r.Width)
	assert.Equal(t, 70, r.Height)
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)
	assert.Equal(t, 120-37, a.Regions[1].StartFrame)
}

func TestEngine_Motion(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	samples := []MotionSample{
		{FrameNo: 10, ChangeRatio: 0.2},
		{FrameNo: 20, ChangeRatio: 0.3},
		{FrameNo: 30, ChangeRatio: 0.05},
		{FrameNo: 300, ChangeRatio: 0.5},
		{FrameNo: 500, ChangeRatio: 0.10},
	}

	a := e.Motion(samples)

	require.Len(t, a.Regions, 1)
	r := a.Regions[0]
	assert.Equal(t, 0, r.StartFrame)
	assert.Equal(t, 20+31, r.EndFrame)
	assert.Equal(t, 192, r.X)
	assert.Equal(t, 864, r.Y)
	assert.Equal(t, 1536, r.Width)
	assert.Equal(t, 162, r.Height)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
}

func TestEngine_Motion_GapSplitsSegments(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)
	// gap threshold is 125 frames at 25fps
	samples := []MotionSample{
		{FrameNo: 100, ChangeRatio: 0.5},
		{FrameNo: 200, ChangeRatio: 0.5},
		{FrameNo: 400, ChangeRatio: 0.5},
		{FrameNo: 500, ChangeRatio: 0.5},
	}

	a := e.Motion(samples)

	require.Len(t, a.Regions, 2)
	for i, last := range []int{200, 500} {
		assert.LessOrEqual(t, a.Regions[i].EndFrame, last+31)
	}
}

func TestEngine_Motion_SingleEvent(t *testing.T) {
	e := NewEngine(DefaultParams(), hd)

	a := e.Motion([]MotionSample{{FrameNo: 100, ChangeRatio: 0.9}})

	assert.False(t, a.HasSubtitles)
}

func TestEngine_PerHit(t *testing.T) {
	e := NewEngine(DefaultParams(), Video{Width: 1280, Height: 720, TotalFrames: 300, FPS: 30})
	hits := []Hit{
		{FrameNo: 290, X: 100, Y: 600, Width: 500, Height: 60, Confidence: 0.9, Text: "bye"},
	}

	a := e.PerHit(hits)

	require.Len(t, a.Regions, 1)
	// round(30*2.5)/2 = 37
	assert.Equal(t, 253, a.Regions[0].StartFrame)
	assert.Equal(t, 299, a.Regions[0].EndFrame)
	assert.Equal(t, "bye", a.Regions[0].Text)
}

func TestEngine_PerHit_SpanMatchesCluster(t *testing.T) {
	// 24.68*2.5 = 61.7 frames: rounding gives 31 on each side, truncation 30.
	e := NewEngine(DefaultParams(), Video{Width: 1280, Height: 720, TotalFrames: 300, FPS: 24.68})
	hits := []Hit{{FrameNo: 100, X: 100, Y: 600, Width: 500, Height: 60, Confidence: 0.9}}

	perHit := e.PerHit(hits)
	cluster := e.Cluster(hits)

	require.Len(t, perHit.Regions, 1)
	require.Len(t, cluster.Regions, 1)
	assert.Equal(t, 69, perHit.Regions[0].StartFrame)
	assert.Equal(t, 131, perHit.Regions[0].EndFrame)
	assert.Equal(t, cluster.Regions[0].StartFrame, perHit.Regions[0].StartFrame)
	assert.Equal(t, cluster.Regions[0].EndFrame, perHit.Regions[0].EndFrame)
}

func TestEngine_RegionsWithinBounds(t *testing.T) {
	v := Video{Width: 640, Height: 360, TotalFrames: 250, FPS: 24}
	e := NewEngine(DefaultParams(), v)
	rng := rand.New(rand.NewSource(7))

	hits := make([]Hit, 0, 200)
	samples := make([]MotionSample, 0, 200)
	for i := 0; i < 200; i++ {
		hits = append(hits, Hit{
			FrameNo:    rng.Intn(300) - 20,
			X:          rng.Intn(800) - 100,
			Y:          rng.Intn(500) - 100,
			Width:      rng.Intn(300),
			Height:     rng.Intn(100),
			Confidence: rng.Float64(),
		})
		samples = append(samples, MotionSample{FrameNo: i * 2, ChangeRatio: rng.Float64() * 0.3})
	}

	for name, a := range map[string]*Analysis{
		"cluster": e.Cluster(hits),
		"bucket":  e.Bucket(hits),
		"motion":  e.Motion(samples),
		"per hit": e.PerHit(hits),
	} {
		t.Run(name, func(t *testing.T) {
			for _, r := range a.Regions {
				assert.GreaterOrEqual(t, r.StartFrame, 0)
				assert.LessOrEqual(t, r.StartFrame, r.EndFrame)
				assert.LessOrEqual(t, r.EndFrame, v.TotalFrames-1)
				assert.GreaterOrEqual(t, r.X, 0)
				assert.GreaterOrEqual(t, r.Y, 0)
				assert.Positive(t, r.Width)
				assert.Positive(t, r.Height)
				assert.LessOrEqual(t, r.X+r.Width, v.Width)
				assert.LessOrEqual(t, r.Y+r.Height, v.Height)
			}
		})
	}
}

func TestAnalysis_RegionsForFrame(t *testing.T) {
	a := NewAnalysis([]TimedRegion{
		{StartFrame: 0, EndFrame: 10, X: 1, Y: 1, Width: 10, Height: 10},
		{StartFrame: 5, EndFrame: 20, X: 1, Y: 1, Width: 10, Height: 10},
		{StartFrame: 30, EndFrame: 40, X: 5, Y: 5, Width: 10, Height: 10},
	}, hd)

	assert.Len(t, a.RegionsForFrame(7), 2)
	assert.Len(t, a.RegionsForFrame(25), 0)
	assert.Len(t, a.UniqueBoxes(), 2)
}
