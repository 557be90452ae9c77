package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Static errors for media operations.
var (
	// ErrNoVideoPaths is returned when no video paths are provided for joining.
	ErrNoVideoPaths = errors.New("media: no video paths provided")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("media: ffprobe execution failed")
	// ErrNoVideoStream is returned when a file has no video stream.
	ErrNoVideoStream = errors.New("media: no video stream")
	// ErrInvalidRange is returned for empty or negative frame ranges.
	ErrInvalidRange = errors.New("media: invalid frame range")
)

// StripWidth and StripHeight are the dimensions of gray strips produced by BottomStrips.
const (
	StripWidth  = 160
	StripHeight = 40
)

// FFmpeg implements the media operations with the ffmpeg CLI. Commands are
// assembled with ffmpeg-go and executed under the caller's context.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg. Empty paths are resolved through PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// ExtractJPEG decodes the given frames as JPEG images. Frames wider than
// maxWidth are downscaled and carry the scale factor used.
func (p *FFmpeg) ExtractJPEG(ctx context.Context, path string, info Info, frames []int, maxWidth int) ([]Frame, error) {
	scale := 1.0
	vf := "null"
	if maxWidth > 0 && info.Width > maxWidth {
		scale = float64(maxWidth) / float64(info.Width)
		vf = fmt.Sprintf("scale=%d:-2", maxWidth)
	}

	out := make([]Frame, 0, len(frames))
	for _, n := range frames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract frames: %w", err)
		}
		stream := ffmpeg.Input(path, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", info.FrameTime(n))}).
			Output("pipe:", ffmpeg.KwArgs{
				"vf":       vf,
				"frames:v": 1,
				"f":        "image2",
				"c:v":      "mjpeg",
				"q:v":      3,
			})
		data, err := p.runFFmpeg(ctx, stream.GetArgs())
		if err != nil {
			return nil, fmt.Errorf("extract frame %d: %w", n, err)
		}
		if len(data) == 0 {
			continue
		}
		out = append(out, Frame{FrameNo: n, Data: data, Scale: scale})
	}
	return out, nil
}

// BottomStrips decodes every step-th frame as a StripWidth x StripHeight
// grayscale image of the lowest quarter of the picture, where subtitles
// usually sit. Data holds raw 8-bit luma.
func (p *FFmpeg) BottomStrips(ctx context.Context, path string, step int) ([]Frame, error) {
	if step < 1 {
		step = 1
	}
	vf := fmt.Sprintf(
		"select='not(mod(n\\,%d))',crop=iw:ih/4:0:ih*3/4,scale=%d:%d,format=gray",
		step, StripWidth, StripHeight,
	)
	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"vf":    vf,
			"vsync": "vfr",
			"f":     "rawvideo",
			"an":    "",
		})
	raw, err := p.runFFmpeg(ctx, stream.GetArgs())
	if err != nil {
		return nil, fmt.Errorf("extract strips: %w", err)
	}

	size := StripWidth * StripHeight
	frames := make([]Frame, 0, len(raw)/size)
	for i := 0; (i+1)*size <= len(raw); i++ {
		frames = append(frames, Frame{
			FrameNo: i * step,
			Data:    raw[i*size : (i+1)*size],
			Scale:   1,
		})
	}
	return frames, nil
}

// CutSegment re-encodes count frames starting at frame start into dst,
// without audio, so segments can be concatenated at exact frame boundaries.
func (p *FFmpeg) CutSegment(ctx context.Context, src, dst string, info Info, start, count int) error {
	if start < 0 || count <= 0 {
		return fmt.Errorf("%w: start=%d count=%d", ErrInvalidRange, start, count)
	}
	stream := ffmpeg.Input(src, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", info.FrameTime(start))}).
		Output(dst, ffmpeg.KwArgs{
			"frames:v": count,
			"an":       "",
			"c:v":      "libx264",
			"preset":   "fast",
			"crf":      18,
			"pix_fmt":  "yuv420p",
		}).
		OverWriteOutput()
	_, err := p.runFFmpeg(ctx, stream.GetArgs())
	return err
}

// JoinVideos concatenates multiple video files into a single output file.
// It first attempts a stream copy and falls back to re-encoding with libx264.
func (p *FFmpeg) JoinVideos(ctx context.Context, videoPaths []string, output string) error {
	if len(videoPaths) == 0 {
		return ErrNoVideoPaths
	}

	listFile, err := createConcatList(videoPaths)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	input := ffmpeg.KwArgs{"f": "concat", "safe": 0}
	copyArgs := ffmpeg.Input(listFile, input).
		Output(output, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		GetArgs()
	if _, err := p.runFFmpeg(ctx, copyArgs); err == nil {
		return nil
	}

	reencodeArgs := ffmpeg.Input(listFile, input).
		Output(output, ffmpeg.KwArgs{
			"c:v":    "libx264",
			"preset": "fast",
			"crf":    18,
		}).
		OverWriteOutput().
		GetArgs()
	_, err = p.runFFmpeg(ctx, reencodeArgs)
	return err
}

// MuxAudio copies the video stream of video and the audio stream of
// audioSrc into output.
func (p *FFmpeg) MuxAudio(ctx context.Context, video, audioSrc, output string) error {
	v := ffmpeg.Input(video).Video()
	a := ffmpeg.Input(audioSrc).Audio()
	stream := ffmpeg.Output([]*ffmpeg.Stream{v, a}, output, ffmpeg.KwArgs{
		"c:v":      "copy",
		"c:a":      "aac",
		"shortest": "",
	}).OverWriteOutput()
	_, err := p.runFFmpeg(ctx, stream.GetArgs())
	return err
}

// createConcatList writes the list file expected by ffmpeg's concat demuxer.
func createConcatList(videoPaths []string) (string, error) {
	f, err := os.CreateTemp("", "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range videoPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns stdout.
// Failures carry the stderr output.
func (p *FFmpeg) runFFmpeg(ctx context.Context, args []string) ([]byte, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
