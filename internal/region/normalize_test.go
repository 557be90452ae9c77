package region

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFlat(t *testing.T) {
	tests := []struct {
		name     string
		entries  [][]float64
		video    Video
		want     []Box
		rejected []int
	}{
		{
			name:    "unordered corners",
			entries: [][]float64{{50, 100, 10, 80}},
			want:    []Box{{XMin: 10, XMax: 50, YMin: 80, YMax: 100}},
		},
		{
			name:     "wrong arity skipped",
			entries:  [][]float64{{1, 2, 3}, {0, 0, 10, 10}, {1, 2, 3, 4, 5}},
			want:     []Box{{XMin: 0, XMax: 10, YMin: 0, YMax: 10}},
			rejected: []int{0, 2},
		},
		{
			name:     "zero area after clipping",
			entries:  [][]float64{{700, 10, 900, 50}, {600, 10, 700, 50}},
			video:    Video{Width: 640, Height: 360},
			want:     []Box{{XMin: 600, XMax: 640, YMin: 10, YMax: 50}},
			rejected: []int{0},
		},
		{
			name:     "degenerate box",
			entries:  [][]float64{{10, 10, 10, 40}},
			want:     []Box{},
			rejected: []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxes, rejected := NormalizeFlat(tt.entries, tt.video)
			assert.Equal(t, tt.want, boxes)
			require.Len(t, rejected, len(tt.rejected))
			for i, idx := range tt.rejected {
				assert.Equal(t, idx, rejected[i].Index)
			}
		})
	}
}

func TestNormalizeFlat_RejectionErrors(t *testing.T) {
	_, rejected := NormalizeFlat([][]float64{{1}, {5, 5, 5, 5}}, Video{})

	require.Len(t, rejected, 2)
	assert.ErrorIs(t, rejected[0], ErrWrongArity)
	assert.ErrorIs(t, rejected[1], ErrZeroArea)
	assert.Contains(t, rejected[0].Error(), "region 0")
}

func TestToFlat_RoundTrip(t *testing.T) {
	regions := []TimedRegion{{X: 10, Y: 20, Width: 30, Height: 40}}

	boxes, rejected := NormalizeFlat(ToFlat(regions), Video{})

	assert.Empty(t, rejected)
	assert.Equal(t, []Box{regions[0].Box()}, boxes)
}

func TestLoadParams(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		p, err := LoadParams("")
		require.NoError(t, err)
		assert.Equal(t, DefaultParams(), p)
	})

	t.Run("overrides on top of defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tuning.toml")
		require.NoError(t, os.WriteFile(path, []byte("cluster_tolerance = 30\nmerge_frames = 5\n"), 0o600))

		p, err := LoadParams(path)
		require.NoError(t, err)
		assert.Equal(t, 30, p.ClusterTolerance)
		assert.Equal(t, 5, p.MergeFrames)
		assert.InDelta(t, 2.5, p.DisplaySeconds, 1e-9)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tuning.toml")
		require.NoError(t, os.WriteFile(path, []byte("motion_threshold = 1.5\n"), 0o600))

		_, err := LoadParams(path)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadParams(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}
