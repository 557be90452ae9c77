package inpaint

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/subclean-api/internal/logging"
	"github.com/maauso/subclean-api/internal/media"
)

// Media is the subset of video operations the worker needs.
type Media interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	CutSegment(ctx context.Context, src, dst string, info media.Info, start, count int) error
	JoinVideos(ctx context.Context, videoPaths []string, output string) error
	MuxAudio(ctx context.Context, video, audioSrc, output string) error
}

// Compile-time check that BatchWorker implements Worker.
var _ Worker = (*BatchWorker)(nil)

// BatchWorker splits the video into fixed-size frame batches. Batches with
// at least one active mask are inpainted remotely, the rest are kept as cut.
// Cancellation is checked before every batch and while waiting on the
// remote model.
type BatchWorker struct {
	media        Media
	client       Client
	logger       *slog.Logger
	tempDir      string
	batchFrames  int
	pollInterval time.Duration
}

// WorkerOption configures a BatchWorker.
type WorkerOption func(*BatchWorker)

// WithBatchFrames sets the number of frames per batch.
func WithBatchFrames(n int) WorkerOption {
	return func(w *BatchWorker) {
		if n > 0 {
			w.batchFrames = n
		}
	}
}

// WithPollInterval sets how often remote jobs are polled.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *BatchWorker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithTempDir sets the parent directory for per-run scratch space.
func WithTempDir(dir string) WorkerOption {
	return func(w *BatchWorker) {
		w.tempDir = dir
	}
}

// NewBatchWorker creates a worker backed by the given media tools and remote client.
func NewBatchWorker(m Media, c Client, logger *slog.Logger, opts ...WorkerOption) *BatchWorker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &BatchWorker{
		media:        m,
		client:       c,
		logger:       logger,
		batchFrames:  250,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run inpaints job.VideoPath into job.OutputPath. Scratch files are removed
// on every exit path.
func (w *BatchWorker) Run(ctx context.Context, job Job, progress ProgressFunc) error {
	if progress == nil {
		progress = func(float64) {}
	}
	logger := w.logger.With(slog.String("task_id", job.TaskID))

	info, err := w.media.Probe(ctx, job.VideoPath)
	if err != nil {
		return fmt.Errorf("probe video: %w", err)
	}
	if info.TotalFrames <= 0 {
		return ErrEmptyVideo
	}

	plan := NewMaskPlan(job.Boxes, job.Regions, info.Video())
	if plan.Empty() {
		logger.Info("no subtitle regions, remote model will scan full frames")
	}

	workDir, err := os.MkdirTemp(w.tempDir, "inpaint-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	total := info.TotalFrames
	batches := (total + w.batchFrames - 1) / w.batchFrames
	sampler := logging.NewProgressSampler(10)
	segments := make([]string, 0, batches)

	logger.Info("inpainting started",
		slog.String("algorithm", job.Algorithm),
		slog.Int("frames", total),
		slog.Int("batches", batches),
	)

	for i := 0; i < batches; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stopped before batch %d: %w", i, err)
		}

		start := i * w.batchFrames
		end := min(start+w.batchFrames, total)
		seg := filepath.Join(workDir, fmt.Sprintf("batch_%05d.mp4", i))
		if err := w.media.CutSegment(ctx, job.VideoPath, seg, info, start, end-start); err != nil {
			return fmt.Errorf("cut batch %d: %w", i, err)
		}

		masks := plan.Masks(start, end)
		if plan.Empty() || len(masks) > 0 {
			out := filepath.Join(workDir, fmt.Sprintf("batch_%05d_clean.mp4", i))
			if err := w.inpaintBatch(ctx, seg, out, masks, job); err != nil {
				return fmt.Errorf("inpaint batch %d: %w", i, err)
			}
			seg = out
		}
		segments = append(segments, seg)

		pct := float64(i+1) / float64(batches) * 95
		progress(pct)
		if sampler.ShouldLog(pct, "inpaint") {
			logger.Info("inpainting progress",
				slog.Float64("percent", pct),
				slog.Int("batch", i+1),
				slog.Int("masks", len(masks)),
			)
		}
	}

	joined := job.OutputPath
	if info.HasAudio {
		joined = filepath.Join(workDir, "joined.mp4")
	}
	if err := w.media.JoinVideos(ctx, segments, joined); err != nil {
		return fmt.Errorf("join batches: %w", err)
	}
	if info.HasAudio {
		if err := w.media.MuxAudio(ctx, joined, job.VideoPath, job.OutputPath); err != nil {
			return fmt.Errorf("restore audio: %w", err)
		}
	}

	if _, err := os.Stat(job.OutputPath); err != nil {
		return fmt.Errorf("%w: %s", ErrOutputMissing, job.OutputPath)
	}

	progress(100)
	logger.Info("inpainting finished", slog.String("output", job.OutputPath))
	return nil
}

// inpaintBatch sends one segment to the remote model and writes the result to out.
func (w *BatchWorker) inpaintBatch(ctx context.Context, seg, out string, masks []Mask, job Job) error {
	data, err := os.ReadFile(seg) // #nosec G304 - path is created by the worker
	if err != nil {
		return fmt.Errorf("read segment: %w", err)
	}

	jobID, err := w.client.Submit(ctx, Request{
		VideoBase64: base64.StdEncoding.EncodeToString(data),
		Masks:       masks,
		Algorithm:   job.Algorithm,
		Config:      job.ConfigOverride,
	})
	if err != nil {
		return err
	}

	res, err := w.await(ctx, jobID)
	if err != nil {
		return err
	}
	if res.Status != StatusCompleted {
		return fmt.Errorf("%w: %s: %s", ErrRemoteFailed, res.Status, res.Error)
	}

	video, err := base64.StdEncoding.DecodeString(res.VideoBase64)
	if err != nil {
		return fmt.Errorf("decode remote output: %w", err)
	}
	if len(video) == 0 {
		return fmt.Errorf("%w: empty output for job %s", ErrRemoteFailed, jobID)
	}
	if err := os.WriteFile(out, video, 0600); err != nil {
		return fmt.Errorf("write batch output: %w", err)
	}
	return nil
}

// await polls a remote job until it reaches a terminal status. A done ctx
// cancels the remote job before returning.
func (w *BatchWorker) await(ctx context.Context, jobID string) (PollResult, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		res, err := w.client.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				w.cancelRemote(jobID)
				return PollResult{}, fmt.Errorf("poll cancelled: %w", ctx.Err())
			}
			return PollResult{}, err
		}
		if res.Status.IsTerminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			w.cancelRemote(jobID)
			return PollResult{}, fmt.Errorf("poll cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *BatchWorker) cancelRemote(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.client.Cancel(ctx, jobID); err != nil {
		w.logger.Warn("failed to cancel remote job",
			slog.String("remote_job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
