package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTestVideo creates a 64x64 25fps video with a moving test pattern and silent audio.
func createTestVideo(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=s=64x64:r=25:d=%.1f", duration),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=44100:cl=mono:d=%.1f", duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpeg(t *testing.T) {
	t.Run("default paths", func(t *testing.T) {
		p := NewFFmpeg("", "")
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, "ffprobe", p.ffprobePath)
	})

	t.Run("custom paths", func(t *testing.T) {
		p := NewFFmpeg("/opt/ffmpeg", "/opt/ffprobe")
		assert.Equal(t, "/opt/ffmpeg", p.ffmpegPath)
		assert.Equal(t, "/opt/ffprobe", p.ffprobePath)
	})
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997},
		{"24", 24},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFrameRate(tt.in), 1e-6)
		})
	}
}

func TestParseProbe(t *testing.T) {
	t.Run("frame count from stream", func(t *testing.T) {
		info, err := parseProbe([]byte(`{
			"streams": [
				{"codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "25/1", "nb_frames": "750"},
				{"codec_type": "audio"}
			],
			"format": {"duration": "30.000000"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, 1920, info.Width)
		assert.Equal(t, 1080, info.Height)
		assert.InDelta(t, 25, info.FPS, 1e-9)
		assert.Equal(t, 750, info.TotalFrames)
		assert.InDelta(t, 30, info.Duration, 1e-9)
		assert.True(t, info.HasAudio)
	})

	t.Run("frame count estimated from duration", func(t *testing.T) {
		info, err := parseProbe([]byte(`{
			"streams": [{"codec_type": "video", "width": 640, "height": 360, "r_frame_rate": "0/0", "avg_frame_rate": "30/1"}],
			"format": {"duration": "2.5"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, 75, info.TotalFrames)
		assert.False(t, info.HasAudio)
	})

	t.Run("no video stream", func(t *testing.T) {
		_, err := parseProbe([]byte(`{"streams": [{"codec_type": "audio"}], "format": {}}`))
		assert.ErrorIs(t, err, ErrNoVideoStream)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := parseProbe([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestInfo_SampleFrames(t *testing.T) {
	tests := []struct {
		name  string
		total int
		n     int
		want  []int
	}{
		{"evenly spread", 100, 4, []int{0, 25, 50, 75}},
		{"fewer frames than samples", 3, 5, []int{0, 1, 2}},
		{"no frames", 0, 5, nil},
		{"no samples", 100, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Info{TotalFrames: tt.total}.SampleFrames(tt.n))
		})
	}
}

func TestFrame_Unscale(t *testing.T) {
	assert.Equal(t, 100, Frame{Scale: 1}.Unscale(100))
	assert.Equal(t, 100, Frame{}.Unscale(100))
	assert.Equal(t, 200, Frame{Scale: 0.5}.Unscale(100))
}

func TestFFmpeg_Pipeline(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	createTestVideo(t, src, 2)
	p := NewFFmpeg("", "")

	info, err := p.Probe(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 64, info.Height)
	assert.InDelta(t, 25, info.FPS, 0.01)
	assert.InDelta(t, 50, info.TotalFrames, 2)
	assert.True(t, info.HasAudio)

	t.Run("extract jpeg", func(t *testing.T) {
		frames, err := p.ExtractJPEG(ctx, src, info, []int{0, 25}, 32)
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Equal(t, []byte{0xFF, 0xD8}, frames[0].Data[:2])
		assert.InDelta(t, 0.5, frames[0].Scale, 1e-9)
	})

	t.Run("bottom strips", func(t *testing.T) {
		frames, err := p.BottomStrips(ctx, src, 10)
		require.NoError(t, err)
		require.NotEmpty(t, frames)
		assert.Len(t, frames[0].Data, StripWidth*StripHeight)
		assert.Equal(t, 10, frames[1].FrameNo)
	})

	t.Run("cut join and mux", func(t *testing.T) {
		a := filepath.Join(dir, "a.mp4")
		b := filepath.Join(dir, "b.mp4")
		require.NoError(t, p.CutSegment(ctx, src, a, info, 0, 20))
		require.NoError(t, p.CutSegment(ctx, src, b, info, 20, 20))

		joined := filepath.Join(dir, "joined.mp4")
		require.NoError(t, p.JoinVideos(ctx, []string{a, b}, joined))

		final := filepath.Join(dir, "final.mp4")
		require.NoError(t, p.MuxAudio(ctx, joined, src, final))

		out, err := p.Probe(ctx, final)
		require.NoError(t, err)
		assert.InDelta(t, 40, out.TotalFrames, 2)
		assert.True(t, out.HasAudio)
	})

	t.Run("invalid range", func(t *testing.T) {
		err := p.CutSegment(ctx, src, filepath.Join(dir, "x.mp4"), info, 0, 0)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.ExtractJPEG(cctx, src, info, []int{0}, 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFFmpeg_ProbeMissingFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	_, err := NewFFmpeg("", "").Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, ErrFFprobeExecution)
}

func TestJoinVideos_NoPaths(t *testing.T) {
	err := NewFFmpeg("", "").JoinVideos(context.Background(), nil, "out.mp4")
	assert.ErrorIs(t, err, ErrNoVideoPaths)
}

func TestCreateConcatList(t *testing.T) {
	list, err := createConcatList([]string{"/tmp/a.mp4", "/tmp/it's.mp4"})
	require.NoError(t, err)
	defer os.Remove(list)

	data, err := os.ReadFile(list)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/a.mp4'\nfile '/tmp/it'\\''s.mp4'\n", string(data))
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4", "-c", "copy", "output.mp4"},
		Stderr: "Error opening input file",
		Err:    inner,
	}

	assert.Contains(t, err.Error(), "exit status 1")
	assert.Contains(t, err.Error(), "Error opening input file")
	assert.ErrorIs(t, err, inner)
}
