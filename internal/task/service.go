package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/subclean-api/internal/inpaint"
	"github.com/maauso/subclean-api/internal/media"
	"github.com/maauso/subclean-api/internal/region"
)

// Static errors for task orchestration.
var (
	// ErrAlreadyProcessing is returned when a task already has a running worker.
	ErrAlreadyProcessing = errors.New("task: already processing")
	// ErrNotPending is returned when processing is requested for a task that already ran.
	ErrNotPending = errors.New("task: not pending")
	// ErrNotCancellable is returned when cancelling a task that is not PROCESSING.
	ErrNotCancellable = errors.New("task: only processing tasks can be cancelled")
	// ErrTaskBusy is returned when deleting or analysing a task that is still running.
	ErrTaskBusy = errors.New("task: detection or processing in progress")
	// ErrNotCompleted is returned when requesting the output of an unfinished task.
	ErrNotCompleted = errors.New("task: not completed")
	// ErrNoAnalysis is returned when no detection has run for the task.
	ErrNoAnalysis = errors.New("task: no analysis available")
	// ErrNoDetector is returned when detection is requested but none is configured.
	ErrNoDetector = errors.New("task: no detector configured")
	// ErrServiceStopped is returned when work is submitted after Stop.
	ErrServiceStopped = errors.New("task: service stopped")
)

// Detector finds subtitle regions in a video.
type Detector interface {
	Detect(ctx context.Context, videoPath string) (*region.Analysis, error)
}

// Files is the file storage the service delegates to.
type Files interface {
	// SaveUpload stores an uploaded video and returns its path and size.
	SaveUpload(ctx context.Context, taskID, filename string, data io.Reader) (path string, size int64, err error)
	// OutputPath returns where the processed video for a task is written.
	OutputPath(taskID, filename string) string
	// Open opens a stored file for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Remove deletes files, ignoring ones already gone.
	Remove(ctx context.Context, paths []string) error
	// UploadToS3 uploads data and returns its public URL.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// Prober reads video metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// SubmitInput describes an uploaded video.
type SubmitInput struct {
	Filename  string
	Body      io.Reader
	Algorithm Algorithm
}

// ProcessOptions configures one processing run.
type ProcessOptions struct {
	// AutoDetect runs the detector before inpainting.
	AutoDetect bool
	// Regions are static [x1,y1,x2,y2] regions used when detection finds nothing.
	Regions [][]float64
	// Algorithm overrides the task's algorithm when set.
	Algorithm Algorithm
	// ConfigOverride holds algorithm settings passed to the worker.
	ConfigOverride map[string]any
	// PushToS3 uploads the output once completed.
	PushToS3 bool
}

type progressUpdate struct {
	taskID  string
	percent float64
}

// Service runs the task lifecycle. Each processing run gets its own goroutine
// and cancel func. Worker progress flows through a bounded channel into a
// single consumer that applies it through the store.
type Service struct {
	store    Store
	worker   inpaint.Worker
	files    Files
	detector Detector
	prober   Prober
	logger   *slog.Logger
	now      func() time.Time

	retention       time.Duration
	cleanupInterval time.Duration
	mergeFrames     int

	progress chan progressUpdate

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	loopMu     sync.Mutex
	stopLoop   context.CancelFunc
	loopWG     sync.WaitGroup
	loopActive bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDetector enables auto-detection.
func WithDetector(d Detector) ServiceOption {
	return func(s *Service) {
		s.detector = d
	}
}

// WithProber records video durations on submission.
func WithProber(p Prober) ServiceOption {
	return func(s *Service) {
		s.prober = p
	}
}

// WithRetention sets how long finished tasks are kept before cleanup.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.retention = d
	}
}

// WithCleanupInterval runs CleanupExpired periodically while started.
// Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.cleanupInterval = d
	}
}

// WithProgressBuffer sets the capacity of the progress channel.
func WithProgressBuffer(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.progress = make(chan progressUpdate, n)
		}
	}
}

// WithMergeFrames sets the time threshold used when merging detected regions.
func WithMergeFrames(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.mergeFrames = n
		}
	}
}

// WithClock replaces time.Now for retention checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a task service.
func NewService(store Store, worker inpaint.Worker, files Files, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		worker:      worker,
		files:       files,
		logger:      logger,
		now:         time.Now,
		retention:   24 * time.Hour,
		mergeFrames: region.DefaultMergeFrames,
		progress:    make(chan progressUpdate, 256),
		running:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the progress consumer and, when configured, the cleanup
// sweeper. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopActive {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.stopLoop = cancel
	s.loopActive = true

	s.loopWG.Add(1)
	go s.consumeProgress(loopCtx)

	if s.cleanupInterval > 0 {
		s.loopWG.Add(1)
		go s.sweep(loopCtx)
	}
}

// Stop cancels running workers, waits for them to finish, then stops the
// background loops. No new work is accepted afterwards.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.loopMu.Lock()
	if s.loopActive {
		s.stopLoop()
		s.loopActive = false
	}
	s.loopMu.Unlock()
	s.loopWG.Wait()
}

// Submit stores an uploaded video and creates a PENDING task for it.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Task, error) {
	t := New()
	t.OriginalFilename = filepath.Base(in.Filename)
	if in.Algorithm != "" {
		t.Algorithm = in.Algorithm
	}

	path, size, err := s.files.SaveUpload(ctx, t.ID, t.OriginalFilename, in.Body)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	t.FilePath = path
	t.FileSize = size

	if s.prober != nil {
		if info, err := s.prober.Probe(ctx, path); err != nil {
			s.logger.Warn("failed to probe upload",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
		} else {
			t.Duration = info.Duration
		}
	}

	if err := s.store.Create(ctx, t); err != nil {
		_ = s.files.Remove(ctx, []string{path})
		return nil, err
	}

	s.logger.Info("task created",
		slog.String("task_id", t.ID),
		slog.String("filename", t.OriginalFilename),
		slog.Int64("size", size),
	)
	return t, nil
}

// Get returns a snapshot of a task.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of tasks.
func (s *Service) List(ctx context.Context, f ListFilter) (ListResult, error) {
	return s.store.List(ctx, f)
}

// Stats counts tasks by status and algorithm.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Process starts detection and inpainting for a PENDING task in the
// background and returns the task in its new state. At most one worker runs
// per task.
func (s *Service) Process(ctx context.Context, id string, opts ProcessOptions) (*Task, error) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.reserve(id, cancel); err != nil {
		cancel()
		return nil, err
	}

	next := StatusProcessing
	if opts.AutoDetect {
		next = StatusDetecting
	}

	t, err := s.store.Update(ctx, id, func(t *Task) error {
		if t.IsBusy() {
			return ErrAlreadyProcessing
		}
		if t.Status != StatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotPending, t.Status)
		}
		alg := t.Algorithm
		if opts.Algorithm != "" {
			alg = opts.Algorithm
		}
		if err := ValidateConfig(alg, opts.ConfigOverride); err != nil {
			return err
		}
		if err := t.TransitionTo(next); err != nil {
			return err
		}
		t.Algorithm = alg
		t.AutoDetect = opts.AutoDetect
		t.PushToS3 = opts.PushToS3
		t.ConfigOverride = opts.ConfigOverride
		if opts.Regions != nil {
			t.SubtitleRegions = opts.Regions
			t.TimedRegions = nil
		}
		return nil
	})
	if err != nil {
		s.release(id)
		s.wg.Done()
		return nil, err
	}

	s.logger.Info("task processing started",
		slog.String("task_id", id),
		slog.String("status", string(t.Status)),
		slog.String("algorithm", string(t.Algorithm)),
		slog.Int("regions", len(t.SubtitleRegions)),
	)

	go s.run(workCtx, t.Clone())
	return t, nil
}

// reserve registers the worker slot for a task. The caller owns one
// WaitGroup count on success.
func (s *Service) reserve(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if _, ok := s.running[id]; ok {
		return ErrAlreadyProcessing
	}
	s.running[id] = cancel
	s.wg.Add(1)
	return nil
}

// release cancels and forgets the worker slot for a task.
func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
}

func (s *Service) isRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// run executes one task. The slot is released on every exit path.
func (s *Service) run(ctx context.Context, t *Task) {
	defer s.wg.Done()
	defer s.release(t.ID)

	logger := s.logger.With(slog.String("task_id", t.ID))

	if t.Status == StatusDetecting {
		if a := s.detect(ctx, t, logger); a != nil && a.HasSubtitles {
			t.TimedRegions = a.Regions
		}
		if _, err := s.store.Update(ctx, t.ID, func(t *Task) error {
			return t.TransitionTo(StatusProcessing)
		}); err != nil {
			logger.Error("failed to start processing", slog.String("error", err.Error()))
			return
		}
	}

	job := inpaint.Job{
		TaskID:         t.ID,
		VideoPath:      t.FilePath,
		OutputPath:     s.files.OutputPath(t.ID, t.OriginalFilename),
		Algorithm:      string(t.Algorithm),
		ConfigOverride: t.ConfigOverride,
	}
	if len(t.TimedRegions) > 0 {
		job.Regions = t.TimedRegions
	} else {
		boxes, rejected := region.NormalizeFlat(t.SubtitleRegions, region.Video{})
		for _, r := range rejected {
			logger.Warn("skipping malformed region",
				slog.Int("index", r.Index),
				slog.String("error", r.Err.Error()),
			)
		}
		job.Boxes = boxes
	}

	if err := s.worker.Run(ctx, job, s.reportProgress(t.ID)); err != nil {
		logger.Error("inpainting failed", slog.String("error", err.Error()))
		s.fail(t.ID, err.Error(), logger)
		return
	}

	var url string
	if t.PushToS3 {
		u, err := s.push(ctx, t.ID, job.OutputPath)
		if err != nil {
			logger.Error("failed to upload output", slog.String("error", err.Error()))
			s.fail(t.ID, err.Error(), logger)
			return
		}
		url = u
	}

	if _, err := s.store.Update(context.WithoutCancel(ctx), t.ID, func(t *Task) error {
		return t.Complete(job.OutputPath, url)
	}); err != nil {
		logger.Warn("task finished after leaving PROCESSING", slog.String("error", err.Error()))
		return
	}
	logger.Info("task completed", slog.String("output", job.OutputPath))
}

// detect runs the detector and records its analysis. Failures are logged and
// reported as a nil analysis so processing continues without regions.
func (s *Service) detect(ctx context.Context, t *Task, logger *slog.Logger) *region.Analysis {
	if s.detector == nil {
		logger.Warn("auto-detection requested but no detector is configured")
		return nil
	}

	a, err := s.detector.Detect(ctx, t.FilePath)
	if err != nil {
		logger.Warn("detection failed, continuing without regions", slog.String("error", err.Error()))
		return nil
	}
	if a == nil {
		a = region.Empty(region.Video{})
	}
	a.Merge(s.mergeFrames)

	if !a.HasSubtitles {
		logger.Info("no subtitles detected, continuing without regions")
	} else {
		logger.Info("subtitles detected", slog.Int("regions", len(a.Regions)))
	}

	if _, err := s.store.Update(ctx, t.ID, func(t *Task) error {
		recordAnalysis(t, a)
		return nil
	}); err != nil {
		logger.Warn("failed to store analysis", slog.String("error", err.Error()))
	}
	return a
}

// recordAnalysis stores a detection result. Detected regions replace any
// static ones; an empty result leaves caller regions in place.
func recordAnalysis(t *Task, a *region.Analysis) {
	t.Analysis = a
	if a.HasSubtitles {
		t.TimedRegions = a.Regions
		t.SubtitleRegions = region.ToFlat(a.Regions)
	}
	t.UpdatedAt = time.Now()
}

func (s *Service) push(ctx context.Context, id, path string) (string, error) {
	rc, err := s.files.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	return s.files.UploadToS3(ctx, "outputs/"+id+"/"+filepath.Base(path), rc)
}

// fail records a worker failure. A task cancelled meanwhile keeps its
// cancellation message.
func (s *Service) fail(id, msg string, logger *slog.Logger) {
	if _, err := s.store.Update(context.Background(), id, func(t *Task) error {
		return t.Fail(msg)
	}); err != nil {
		logger.Debug("task already finished", slog.String("error", err.Error()))
	}
}

// reportProgress returns a non-blocking progress callback. Updates are
// dropped when the buffer is full.
func (s *Service) reportProgress(id string) inpaint.ProgressFunc {
	return func(p float64) {
		select {
		case s.progress <- progressUpdate{taskID: id, percent: p}:
		default:
			s.logger.Debug("progress update dropped", slog.String("task_id", id), slog.Float64("percent", p))
		}
	}
}

func (s *Service) consumeProgress(ctx context.Context) {
	defer s.loopWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.progress:
			s.applyProgress(ctx, u)
		}
	}
}

var errNotProcessing = errors.New("task: not processing")

// applyProgress writes one update. Updates for tasks that left PROCESSING
// are ignored; late values may overwrite newer ones.
func (s *Service) applyProgress(ctx context.Context, u progressUpdate) {
	_, err := s.store.Update(ctx, u.taskID, func(t *Task) error {
		if t.Status != StatusProcessing {
			return errNotProcessing
		}
		t.UpdateProgress(u.percent)
		return nil
	})
	if err != nil && !errors.Is(err, errNotProcessing) {
		s.logger.Debug("progress update skipped",
			slog.String("task_id", u.taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) sweep(ctx context.Context) {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.logger.Warn("periodic cleanup failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cancel stops a PROCESSING task. The task is marked FAILED first, then the
// worker context is cancelled; the worker stops at its next batch boundary.
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	t, err := s.store.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusProcessing {
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, t.Status)
		}
		return t.Fail(CancelledMessage)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.logger.Info("task cancelled", slog.String("task_id", id))
	return t, nil
}

// Delete removes an idle task and its files.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.Delete(ctx, id, func(t *Task) error {
		if t.IsBusy() || s.isRunning(t.ID) {
			return ErrTaskBusy
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.removeFiles(ctx, t)
	s.logger.Info("task deleted", slog.String("task_id", id))
	return nil
}

// CleanupExpired removes finished tasks older than the retention period
// together with their files and returns how many were removed.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	removed, err := s.store.SweepExpired(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	for _, t := range removed {
		s.removeFiles(ctx, t)
	}
	if len(removed) > 0 {
		s.logger.Info("expired tasks removed", slog.Int("count", len(removed)))
	}
	return len(removed), nil
}

func (s *Service) removeFiles(ctx context.Context, t *Task) {
	var paths []string
	for _, p := range []string{t.FilePath, t.OutputPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if err := s.files.Remove(ctx, paths); err != nil {
		s.logger.Warn("failed to remove task files",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Detect runs detection synchronously without processing. The analysis is
// stored on the task; a PENDING task also adopts the detected regions.
func (s *Service) Detect(ctx context.Context, id string) (*region.Analysis, error) {
	if s.detector == nil {
		return nil, ErrNoDetector
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsBusy() {
		return nil, ErrTaskBusy
	}

	a, err := s.detector.Detect(ctx, t.FilePath)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a = region.Empty(region.Video{})
	}
	a.Merge(s.mergeFrames)

	if _, err := s.store.Update(ctx, id, func(t *Task) error {
		if t.Status == StatusPending {
			recordAnalysis(t, a)
		} else {
			t.Analysis = a
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.logger.Info("detection finished",
		slog.String("task_id", id),
		slog.Bool("has_subtitles", a.HasSubtitles),
		slog.Int("regions", len(a.Regions)),
	)
	return a, nil
}

// Analysis returns the last detection result for a task.
func (s *Service) Analysis(ctx context.Context, id string) (*region.Analysis, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Analysis == nil {
		return nil, ErrNoAnalysis
	}
	return t.Analysis, nil
}

// OpenOutput opens the processed video of a COMPLETED task.
func (s *Service) OpenOutput(ctx context.Context, id string) (*Task, io.ReadCloser, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if t.Status != StatusCompleted {
		return nil, nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, t.Status)
	}
	rc, err := s.files.Open(ctx, t.OutputPath)
	if err != nil {
		return nil, nil, err
	}
	return t, rc, nil
}
