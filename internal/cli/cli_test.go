package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/subclean-api/internal/config"
	"github.com/maauso/subclean-api/internal/detect"
	"github.com/maauso/subclean-api/internal/inpaint"
	"github.com/maauso/subclean-api/internal/region"
	"github.com/maauso/subclean-api/internal/server"
	"github.com/maauso/subclean-api/internal/storage"
	"github.com/maauso/subclean-api/internal/task"
)

type detectorFunc func(ctx context.Context, videoPath string) (*region.Analysis, error)

func (f detectorFunc) Detect(ctx context.Context, videoPath string) (*region.Analysis, error) {
	return f(ctx, videoPath)
}

type workerFunc func(ctx context.Context, job inpaint.Job, progress inpaint.ProgressFunc) error

func (f workerFunc) Run(ctx context.Context, job inpaint.Job, progress inpaint.ProgressFunc) error {
	return f(ctx, job, progress)
}

func sampleAnalysis() *region.Analysis {
	return region.NewAnalysis([]region.TimedRegion{
		{StartFrame: 0, EndFrame: 60, X: 100, Y: 900, Width: 800, Height: 80, Confidence: 0.9, Text: "hello"},
	}, region.Video{Width: 1920, Height: 1080, TotalFrames: 250, FPS: 25})
}

// recordingFactory returns a factory that captures its settings and serves det.
func recordingFactory(got *DetectSettings, det task.Detector) DetectorFactory {
	return func(_ context.Context, s DetectSettings, _ *slog.Logger) (task.Detector, error) {
		*got = s
		return det, nil
	}
}

func runCLI(t *testing.T, factory DetectorFactory, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(http.DefaultClient, factory)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestDetectCommand_JSON(t *testing.T) {
	var got DetectSettings
	var gotPath string
	det := detectorFunc(func(_ context.Context, videoPath string) (*region.Analysis, error) {
		gotPath = videoPath
		return sampleAnalysis(), nil
	})

	out, _, err := runCLI(t, recordingFactory(&got, det), "detect", "--detector", "motion", "--merge-threshold", "20", "clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, "clip.mp4", gotPath)
	assert.Equal(t, config.DetectorMotion, got.Config.Detector)
	assert.Equal(t, 20, got.Config.MergeThreshold)
	assert.Equal(t, 30, got.Config.SampleFrames)
	assert.Equal(t, "ffprobe", got.Config.FFprobePath)
	assert.Empty(t, got.HitsPath)

	var res struct {
		Video           string               `json:"video"`
		HasSubtitles    bool                 `json:"has_subtitles"`
		Regions         []region.TimedRegion `json:"regions"`
		SubtitleRegions [][]float64          `json:"subtitle_regions"`
		TotalFrames     int                  `json:"total_frames"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "clip.mp4", res.Video)
	assert.True(t, res.HasSubtitles)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, [][]float64{{100, 900, 900, 980}}, res.SubtitleRegions)
	assert.Equal(t, 250, res.TotalFrames)
}

func TestDetectCommand_Table(t *testing.T) {
	var got DetectSettings
	det := detectorFunc(func(context.Context, string) (*region.Analysis, error) {
		return sampleAnalysis(), nil
	})

	out, _, err := runCLI(t, recordingFactory(&got, det), "--output", "table", "detect", "clip.mp4")
	require.NoError(t, err)

	assert.Contains(t, out, "clip.mp4: 1 region(s), 250 frames at 25.00 fps")
	assert.Contains(t, out, "100,900")
	assert.Contains(t, out, "800x80")
	assert.Contains(t, out, "0.90")
	assert.Contains(t, out, "hello")
}

func TestDetectCommand_NoSubtitles(t *testing.T) {
	var got DetectSettings
	det := detectorFunc(func(context.Context, string) (*region.Analysis, error) {
		return nil, nil
	})

	out, _, err := runCLI(t, recordingFactory(&got, det), "-o", "table", "detect", "clip.mp4")
	require.NoError(t, err)
	assert.Contains(t, out, "No subtitles detected")
}

func TestDetectCommand_HitsFile(t *testing.T) {
	var got DetectSettings
	det := detectorFunc(func(context.Context, string) (*region.Analysis, error) {
		return region.Empty(region.Video{}), nil
	})

	_, _, err := runCLI(t, recordingFactory(&got, det), "detect", "--hits", "hits.json", "--mode", "bucket", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, config.DetectorHits, got.Config.Detector)
	assert.Equal(t, "hits.json", got.HitsPath)
	assert.Equal(t, "bucket", got.Config.HitsMode)
}

func TestDetectCommand_APIKeysFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	var got DetectSettings
	det := detectorFunc(func(context.Context, string) (*region.Analysis, error) {
		return region.Empty(region.Video{}), nil
	})

	_, _, err := runCLI(t, recordingFactory(&got, det), "detect", "--provider", "openai", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", got.Config.OpenAIAPIKey)
	assert.Equal(t, "sk-env", got.Config.VisionAPIKey())
}

func TestDetectCommand_Errors(t *testing.T) {
	t.Run("detection disabled", func(t *testing.T) {
		var got DetectSettings
		_, _, err := runCLI(t, recordingFactory(&got, nil), "detect", "--detector", "none", "clip.mp4")
		assert.ErrorIs(t, err, errDetectionDisabled)
	})

	t.Run("detector failure", func(t *testing.T) {
		var got DetectSettings
		det := detectorFunc(func(context.Context, string) (*region.Analysis, error) {
			return nil, detect.ErrDetectionUnavailable
		})
		_, _, err := runCLI(t, recordingFactory(&got, det), "detect", "clip.mp4")
		assert.ErrorIs(t, err, detect.ErrDetectionUnavailable)
	})

	t.Run("missing argument", func(t *testing.T) {
		var got DetectSettings
		_, _, err := runCLI(t, recordingFactory(&got, nil), "detect")
		assert.Error(t, err)
	})

	t.Run("invalid output", func(t *testing.T) {
		var got DetectSettings
		_, _, err := runCLI(t, recordingFactory(&got, nil), "--output", "yaml", "detect", "clip.mp4")
		assert.ErrorContains(t, err, "invalid --output")
	})
}

func TestDefaultDetectorFactory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := func() *config.Config {
		return &config.Config{Detector: config.DetectorAuto, VisionProvider: config.ProviderGemini, HitsMode: "cluster", MergeThreshold: 10}
	}

	det, err := defaultDetectorFactory(context.Background(), DetectSettings{Config: base(), HitsPath: "hits.json"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &detect.ConsolidatingDetector{}, det)

	det, err = defaultDetectorFactory(context.Background(), DetectSettings{Config: base()}, logger)
	require.NoError(t, err)
	assert.IsType(t, &detect.MotionDetector{}, det)

	cfg := base()
	cfg.HitsMode = "ocr"
	_, err = defaultDetectorFactory(context.Background(), DetectSettings{Config: cfg, HitsPath: "hits.json"}, logger)
	assert.ErrorIs(t, err, detect.ErrUnknownMode)
}

func TestParseRegions(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    [][]float64
		wantErr bool
	}{
		{name: "none", input: nil, want: [][]float64{}},
		{name: "two", input: []string{"0,400,640,480", " 10, 20 ,30,40"}, want: [][]float64{{0, 400, 640, 480}, {10, 20, 30, 40}}},
		{name: "short", input: []string{"1,2,3"}, wantErr: true},
		{name: "not a number", input: []string{"1,2,3,x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRegions(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// newTestServer runs the real API over a task service whose worker writes a
// fixed output file.
func newTestServer(t *testing.T) (*httptest.Server, *task.Service) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	worker := workerFunc(func(_ context.Context, job inpaint.Job, _ inpaint.ProgressFunc) error {
		if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o750); err != nil {
			return err
		}
		return os.WriteFile(job.OutputPath, []byte("clean video"), 0o600)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := task.NewService(task.NewMemoryStore(), worker, files, logger)
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)

	ts := httptest.NewServer(server.NewRouter(server.NewHandlers(svc, logger), logger, server.DefaultConfig()))
	t.Cleanup(ts.Close)
	return ts, svc
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video"), 0o600))
	return path
}

func TestTasksCommands_AgainstServer(t *testing.T) {
	ts, svc := newTestServer(t)
	video := writeVideo(t)

	out, _, err := runCLI(t, nil, "--server", ts.URL, "upload", "--algorithm", "lama", video)
	require.NoError(t, err)
	var up server.UploadResponse
	require.NoError(t, json.Unmarshal([]byte(out), &up))
	assert.Equal(t, "PENDING", up.Status)
	assert.Equal(t, "lama", up.Algorithm)
	assert.Equal(t, "movie.mp4", up.Filename)

	out, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "list")
	require.NoError(t, err)
	var list server.TaskListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, up.TaskID, list.Tasks[0].ID)

	out, _, err = runCLI(t, nil, "--server", ts.URL, "-o", "table", "tasks", "list", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, up.TaskID)
	assert.Contains(t, out, "Page 1, 1 of 1 task(s)")

	out, _, err = runCLI(t, nil, "--server", ts.URL, "-o", "table", "tasks", "show", up.TaskID)
	require.NoError(t, err)
	assert.Contains(t, out, "movie.mp4")
	assert.Contains(t, out, "PENDING")

	out, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "stats")
	require.NoError(t, err)
	var st server.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.ByAlgorithm["lama"])

	_, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "cancel", up.TaskID)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "NOT_CANCELLABLE", apiErr.Code)

	out, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "delete", up.TaskID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, err = svc.Get(context.Background(), up.TaskID)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	_, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "show", up.TaskID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TASK_NOT_FOUND", apiErr.Code)
}

func TestUploadProcessAndDownload(t *testing.T) {
	ts, svc := newTestServer(t)
	video := writeVideo(t)

	out, _, err := runCLI(t, nil, "--server", ts.URL, "upload", "--region", "0,400,640,480", video)
	require.NoError(t, err)
	var started server.TaskResponse
	require.NoError(t, json.Unmarshal([]byte(out), &started))
	assert.Equal(t, "PROCESSING", started.Status)
	assert.Equal(t, [][]float64{{0, 400, 640, 480}}, started.SubtitleRegions)

	require.Eventually(t, func() bool {
		got, err := svc.Get(context.Background(), started.ID)
		return err == nil && got.Status == task.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	dest := filepath.Join(t.TempDir(), "result.mp4")
	_, stderr, err := runCLI(t, nil, "--server", ts.URL, "tasks", "download", started.ID, "--file", dest)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Wrote 11 bytes")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "clean video", string(data))

	out, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "download", started.ID, "--file", "-")
	require.NoError(t, err)
	assert.Equal(t, "clean video", out)
}

func TestDownload_NotCompletedRemovesFile(t *testing.T) {
	ts, _ := newTestServer(t)
	video := writeVideo(t)

	out, _, err := runCLI(t, nil, "--server", ts.URL, "upload", video)
	require.NoError(t, err)
	var up server.UploadResponse
	require.NoError(t, json.Unmarshal([]byte(out), &up))

	dest := filepath.Join(t.TempDir(), "result.mp4")
	_, _, err = runCLI(t, nil, "--server", ts.URL, "tasks", "download", up.TaskID, "--file", dest)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_COMPLETED", apiErr.Code)

	_, statErr := os.Stat(dest)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestUpload_Errors(t *testing.T) {
	ts, _ := newTestServer(t)

	_, _, err := runCLI(t, nil, "--server", ts.URL, "upload", filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorContains(t, err, "open video")

	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o600))
	_, _, err = runCLI(t, nil, "--server", ts.URL, "upload", notes)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "UNSUPPORTED_FORMAT", apiErr.Code)

	_, _, err = runCLI(t, nil, "--server", ts.URL, "upload", "--region", "1,2", writeVideo(t))
	assert.ErrorContains(t, err, "invalid region")
}
