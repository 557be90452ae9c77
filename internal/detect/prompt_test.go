package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/subclean-api/internal/media"
	"github.com/maauso/subclean-api/internal/region"
)

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding space", in: "  \n{\"a\":1}\n\t", want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSONResponse(tt.in))
		})
	}
}

func TestBuildPrompt_ListsFrames(t *testing.T) {
	prompt := buildPrompt([]Image{
		{FrameNo: 0, TimeSec: 0},
		{FrameNo: 33, TimeSec: 1.32},
	})

	assert.Contains(t, prompt, "Frame 0: frame_no=0, time=0.00s")
	assert.Contains(t, prompt, "Frame 1: frame_no=33, time=1.32s")
	assert.Contains(t, prompt, `"is_subtitle": boolean`)
}

func TestToImages(t *testing.T) {
	info := media.Info{FPS: 25}
	images := toImages([]media.Frame{{FrameNo: 50, Data: []byte{1}}}, info)

	require.Len(t, images, 1)
	assert.Equal(t, 50, images[0].FrameNo)
	assert.InDelta(t, 2.0, images[0].TimeSec, 1e-9)
	assert.Equal(t, []byte{1}, images[0].Data)
}

func TestParseResponse(t *testing.T) {
	frames := []media.Frame{
		{FrameNo: 0, Scale: 0.5},
		{FrameNo: 33, Scale: 0.5},
		{FrameNo: 66, Scale: 1},
	}

	text := "```json\n" + `{
  "has_subtitles": true,
  "subtitle_type": "hard",
  "timed_regions": [
    {"frame_index": 1, "frame_no": 999, "x": 50, "y": 450, "width": 400, "height": 40, "confidence": 0.9, "text_content": " hello ", "is_subtitle": true},
    {"frame_index": 0, "x": 10, "y": 10, "width": 50, "height": 20, "confidence": 0.95, "is_subtitle": false},
    {"frame_index": 0, "x": 10, "y": 400, "width": 50, "height": 20, "confidence": 0.2},
    {"frame_no": 66, "x": 100, "y": 900, "width": 800, "height": 80, "confidence": 0.7}
  ]
}` + "\n```"

	resp, hits, err := parseResponse(text, frames, 0.5)
	require.NoError(t, err)

	assert.True(t, resp.HasSubtitles)
	assert.Len(t, resp.TimedRegions, 4)
	require.Len(t, hits, 2)

	assert.Equal(t, region.Hit{FrameNo: 33, X: 100, Y: 900, Width: 800, Height: 80, Confidence: 0.9, Text: "hello"}, hits[0])
	assert.Equal(t, region.Hit{FrameNo: 66, X: 100, Y: 900, Width: 800, Height: 80, Confidence: 0.7}, hits[1])
}

func TestParseResponse_OutOfRangeIndexFallsBackToFrameNo(t *testing.T) {
	frames := []media.Frame{{FrameNo: 10, Scale: 0.5}}

	_, hits, err := parseResponse(`{"timed_regions":[{"frame_index":7,"frame_no":10,"x":1,"y":2,"width":3,"height":4,"confidence":1}]}`, frames, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 10, hits[0].FrameNo)
	assert.Equal(t, 2, hits[0].X)
	assert.Equal(t, 8, hits[0].Height)
}

func TestParseResponse_UnknownFrameIsDropped(t *testing.T) {
	frames := []media.Frame{{FrameNo: 10, Scale: 0.5}}
	text := `{"timed_regions":[
		{"frame_no":42,"x":5,"y":6,"width":7,"height":8,"confidence":1},
		{"frame_index":3,"frame_no":43,"x":5,"y":6,"width":7,"height":8,"confidence":1},
		{"frame_no":10,"x":5,"y":6,"width":7,"height":8,"confidence":1}
	]}`

	_, hits, err := parseResponse(text, frames, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, region.Hit{FrameNo: 10, X: 10, Y: 12, Width: 14, Height: 16, Confidence: 1}, hits[0])
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	long := "not json " + strings.Repeat("x", 300)

	_, hits, err := parseResponse(long, nil, 0)
	require.Error(t, err)
	assert.Nil(t, hits)
	assert.Contains(t, err.Error(), "...")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
}
