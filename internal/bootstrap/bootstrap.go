// Package bootstrap provides dependency initialization for the subtitle removal API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/maauso/subclean-api/internal/config"
	"github.com/maauso/subclean-api/internal/detect"
	"github.com/maauso/subclean-api/internal/inpaint"
	"github.com/maauso/subclean-api/internal/media"
	"github.com/maauso/subclean-api/internal/region"
	"github.com/maauso/subclean-api/internal/storage"
	"github.com/maauso/subclean-api/internal/task"
)

// ErrWorkDirLocked is returned when another server already owns the work directory.
var ErrWorkDirLocked = errors.New("bootstrap: work directory is locked by another process")

const lockFileName = "subclean.lock"

// fileStore is the storage backend plus the scratch directory the worker needs.
type fileStore interface {
	storage.Storage
	Root() string
	TempDir() string
}

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service  *task.Service
	Files    storage.Storage
	Detector task.Detector

	lock *flock.Flock
}

// NewDependencies creates and initializes all dependencies for the application.
// The work directory is locked for the lifetime of the returned value.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	files, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	lock, err := lockWorkDir(files.Root())
	if err != nil {
		return nil, err
	}

	deps, err := newDependencies(ctx, cfg, files, logger)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	deps.lock = lock
	return deps, nil
}

func newDependencies(ctx context.Context, cfg *config.Config, files fileStore, logger *slog.Logger) (*Dependencies, error) {
	params, err := LoadParams(cfg)
	if err != nil {
		return nil, err
	}

	ff := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)

	// Initialize remote inpainting client
	var clientOpts []inpaint.ClientOption
	if cfg.InpaintBaseURL != "" {
		clientOpts = append(clientOpts, inpaint.WithBaseURL(cfg.InpaintBaseURL))
	}
	client, err := inpaint.NewClient(cfg.InpaintEndpointID, cfg.InpaintAPIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create inpaint client: %w", err)
	}

	worker := inpaint.NewBatchWorker(ff, client, logger,
		inpaint.WithBatchFrames(cfg.BatchFrames),
		inpaint.WithPollInterval(cfg.PollInterval),
		inpaint.WithTempDir(files.TempDir()),
	)

	detector, err := NewDetector(ctx, cfg, ff, params, logger)
	if err != nil {
		return nil, err
	}

	opts := []task.ServiceOption{
		task.WithProber(ff),
		task.WithRetention(cfg.Retention()),
		task.WithCleanupInterval(cfg.CleanupInterval),
		task.WithMergeFrames(params.MergeFrames),
	}
	if detector != nil {
		opts = append(opts, task.WithDetector(detector))
	}

	svc := task.NewService(task.NewMemoryStore(), worker, files, logger, opts...)

	return &Dependencies{
		Service:  svc,
		Files:    files,
		Detector: detector,
	}, nil
}

// Close stops the task service and releases the work directory lock.
func (d *Dependencies) Close() error {
	d.Service.Stop()
	if d.lock == nil {
		return nil
	}
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("release work directory lock: %w", err)
	}
	return nil
}

// LoadParams returns the region tuning from TUNING_FILE, or the defaults.
// MERGE_THRESHOLD always sets the merge window.
func LoadParams(cfg *config.Config) (region.Params, error) {
	params := region.DefaultParams()
	if cfg.TuningFile != "" {
		p, err := region.LoadParams(cfg.TuningFile)
		if err != nil {
			return region.Params{}, fmt.Errorf("load tuning file: %w", err)
		}
		params = p
	}
	params.MergeFrames = cfg.MergeThreshold
	return params, nil
}

// NewDetector builds the detector selected by the configuration. It returns
// nil when detection is disabled.
func NewDetector(ctx context.Context, cfg *config.Config, ff *media.FFmpeg, params region.Params, logger *slog.Logger) (task.Detector, error) {
	switch cfg.ResolvedDetector() {
	case config.DetectorNone:
		logger.Info("subtitle detection disabled")
		return nil, nil
	case config.DetectorMotion:
		logger.Info("motion detector configured")
		return detect.NewMotionDetector(ff, logger, detect.WithMotionParams(params)), nil
	case config.DetectorHits:
		mode, err := detect.ParseMode(cfg.HitsMode)
		if err != nil {
			return nil, err
		}
		logger.Info("hit file detector configured", slog.String("mode", string(mode)))
		return detect.NewConsolidatingDetector(ff, detect.FileHitSource{}, mode, params, logger), nil
	case config.DetectorVision:
		model, err := newVisionModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("vision detector configured", slog.String("model", model.Name()))
		return detect.NewVisionDetector(ff, model, logger,
			detect.WithSampleFrames(cfg.SampleFrames),
			detect.WithMinConfidence(cfg.MinConfidence),
			detect.WithVisionParams(params),
		), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDetector, cfg.Detector)
	}
}

func newVisionModel(ctx context.Context, cfg *config.Config) (detect.VisionModel, error) {
	key := cfg.VisionAPIKey()
	switch strings.ToLower(cfg.VisionProvider) {
	case config.ProviderOpenAI:
		return detect.NewOpenAIModel(key, cfg.VisionModel)
	case config.ProviderAnthropic:
		return detect.NewAnthropicModel(key, cfg.VisionModel)
	default:
		return detect.NewGeminiModel(ctx, key, cfg.VisionModel)
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (fileStore, error) {
	opts := []storage.LocalOption{storage.WithMaxUploadBytes(cfg.MaxUploadBytes)}

	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.WorkDir, s3Cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.WorkDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("work_dir", localStore.Root()),
	)
	return localStore, nil
}

// lockWorkDir takes an exclusive lock so two servers never share task files.
func lockWorkDir(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire work directory lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkDirLocked, dir)
	}
	return lock, nil
}
