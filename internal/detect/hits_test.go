package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/subclean-api/internal/region"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeCluster},
		{in: "cluster", want: ModeCluster},
		{in: "BUCKET", want: ModeBucket},
		{in: "perhit", want: ModePerHit},
		{in: "ocr", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func subtitleHits() []region.Hit {
	return []region.Hit{
		{FrameNo: 100, X: 100, Y: 900, Width: 800, Height: 80, Confidence: 0.9, Text: "one"},
		{FrameNo: 110, X: 110, Y: 905, Width: 790, Height: 82, Confidence: 0.7, Text: "one"},
		{FrameNo: 500, X: 300, Y: 100, Width: 200, Height: 40, Confidence: 0.8, Text: "top"},
	}
}

func TestConsolidate(t *testing.T) {
	v := hdVideo().Video()
	params := region.DefaultParams()

	t.Run("cluster", func(t *testing.T) {
		a, err := Consolidate(subtitleHits(), ModeCluster, params, v)
		require.NoError(t, err)
		require.Len(t, a.Regions, 2)
		assert.Equal(t, 105, a.Regions[0].X)
		assert.Equal(t, 100-31, a.Regions[0].StartFrame)
		assert.Equal(t, 110+31, a.Regions[0].EndFrame)
		assert.Equal(t, 300, a.Regions[1].X)
	})

	t.Run("bucket", func(t *testing.T) {
		a, err := Consolidate(subtitleHits(), ModeBucket, params, v)
		require.NoError(t, err)
		// The lone hit at frame 500 is below the minimum bucket size.
		require.Len(t, a.Regions, 1)
		assert.Equal(t, region.Box{XMin: 100, XMax: 900, YMin: 900, YMax: 987}, a.Regions[0].Box())
	})

	t.Run("perhit", func(t *testing.T) {
		a, err := Consolidate(subtitleHits(), ModePerHit, params, v)
		require.NoError(t, err)
		// The first two overlap in time and position and merge.
		require.Len(t, a.Regions, 2)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Consolidate(subtitleHits(), Mode("ocr"), params, v)
		assert.ErrorIs(t, err, ErrUnknownMode)
	})
}

func TestDecodeHits(t *testing.T) {
	hits, err := DecodeHits([]byte(`[{"frame_no":12,"x":1,"y":2,"width":3,"height":4,"confidence":0.5,"text":"hi"}]`))
	require.NoError(t, err)
	assert.Equal(t, []region.Hit{{FrameNo: 12, X: 1, Y: 2, Width: 3, Height: 4, Confidence: 0.5, Text: "hi"}}, hits)

	_, err = DecodeHits([]byte(`{`))
	assert.Error(t, err)
}

func TestFileHitSource(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video+".hits.json", []byte(`[{"frame_no":1}]`), 0o600))

	hits, err := FileHitSource{}.Hits(context.Background(), video)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	custom := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(custom, []byte(`[]`), 0o600))
	hits, err = FileHitSource{Path: custom}.Hits(context.Background(), video)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = FileHitSource{}.Hits(context.Background(), filepath.Join(dir, "missing.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type stubHits struct {
	hits []region.Hit
	err  error
}

func (s stubHits) Hits(context.Context, string) ([]region.Hit, error) {
	return s.hits, s.err
}

func TestConsolidatingDetector(t *testing.T) {
	m := &fakeMedia{info: hdVideo()}

	a, err := NewConsolidatingDetector(m, stubHits{hits: subtitleHits()}, ModeCluster, region.DefaultParams(), nil).
		Detect(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Len(t, a.Regions, 2)
	assert.Equal(t, 25.0, a.FPS)

	_, err = NewConsolidatingDetector(m, stubHits{err: errors.New("gone")}, ModeCluster, region.DefaultParams(), nil).
		Detect(context.Background(), "video.mp4")
	assert.ErrorIs(t, err, ErrDetectionUnavailable)

	_, err = NewConsolidatingDetector(&fakeMedia{probeErr: errors.New("bad")}, stubHits{}, ModeCluster, region.DefaultParams(), nil).
		Detect(context.Background(), "video.mp4")
	assert.ErrorIs(t, err, ErrDetectionUnavailable)
}
