// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Detector names accepted in DETECTOR.
const (
	// DetectorAuto uses a vision model when its API key is set, motion otherwise.
	DetectorAuto   = "auto"
	DetectorVision = "vision"
	DetectorMotion = "motion"
	// DetectorHits reads hits written next to the upload by an external tool.
	DetectorHits = "hits"
	DetectorNone = "none"
)

// Vision providers accepted in VISION_PROVIDER.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	detectors = []string{DetectorAuto, DetectorVision, DetectorMotion, DetectorHits, DetectorNone}
	providers = []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic}
)

// Static errors for configuration validation.
var (
	// ErrInpaintAPIKeyRequired is returned when INPAINT_API_KEY is not set.
	ErrInpaintAPIKeyRequired = errors.New("config: INPAINT_API_KEY is required")
	// ErrInpaintEndpointIDRequired is returned when INPAINT_ENDPOINT_ID is not set.
	ErrInpaintEndpointIDRequired = errors.New("config: INPAINT_ENDPOINT_ID is required")
	// ErrUnknownDetector is returned for an unrecognized DETECTOR value.
	ErrUnknownDetector = errors.New("config: unknown DETECTOR")
	// ErrUnknownVisionProvider is returned for an unrecognized VISION_PROVIDER value.
	ErrUnknownVisionProvider = errors.New("config: unknown VISION_PROVIDER")
	// ErrVisionAPIKeyRequired is returned when DETECTOR=vision lacks the provider's key.
	ErrVisionAPIKeyRequired = errors.New("config: API key for the vision provider is required")
	// ErrInvalidValue is returned for out of range numeric settings.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	WorkDir            string        `env:"WORK_DIR, default=/tmp/subclean" json:"work_dir"`
	MaxUploadBytes     int64         `env:"MAX_UPLOAD_BYTES, default=1073741824" json:"max_upload_bytes"`
	FileRetentionHours int           `env:"FILE_RETENTION_HOURS, default=24" json:"file_retention_hours"`
	CleanupInterval    time.Duration `env:"CLEANUP_INTERVAL, default=1h" json:"cleanup_interval"`

	// Remote inpainting settings
	InpaintAPIKey     string        `env:"INPAINT_API_KEY, required" json:"-"` // Masked in JSON
	InpaintEndpointID string        `env:"INPAINT_ENDPOINT_ID, required" json:"inpaint_endpoint_id"`
	InpaintBaseURL    string        `env:"INPAINT_BASE_URL" json:"inpaint_base_url,omitempty"`
	BatchFrames       int           `env:"BATCH_FRAMES, default=250" json:"batch_frames"`
	PollInterval      time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	DefaultAlgorithm  string        `env:"DEFAULT_ALGORITHM, default=sttn" json:"default_algorithm"`

	// Detection settings
	Detector        string  `env:"DETECTOR, default=auto" json:"detector"`
	HitsMode        string  `env:"HITS_MODE, default=cluster" json:"hits_mode"`
	VisionProvider  string  `env:"VISION_PROVIDER, default=gemini" json:"vision_provider"`
	VisionModel     string  `env:"VISION_MODEL" json:"vision_model,omitempty"`
	GeminiAPIKey    string  `env:"GEMINI_API_KEY" json:"-"`    // Masked in JSON
	OpenAIAPIKey    string  `env:"OPENAI_API_KEY" json:"-"`    // Masked in JSON
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY" json:"-"` // Masked in JSON
	SampleFrames    int     `env:"SAMPLE_FRAMES, default=30" json:"sample_frames"`
	MinConfidence   float64 `env:"MIN_CONFIDENCE, default=0.5" json:"min_confidence"`
	MergeThreshold  int     `env:"MERGE_THRESHOLD, default=10" json:"merge_threshold"`
	TuningFile      string  `env:"TUNING_FILE" json:"tuning_file,omitempty"`

	// Media tools
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Retention returns how long finished tasks are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.FileRetentionHours) * time.Hour
}

// VisionAPIKey returns the API key of the configured vision provider.
func (c *Config) VisionAPIKey() string {
	switch strings.ToLower(c.VisionProvider) {
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	default:
		return ""
	}
}

// ResolvedDetector returns the detector to build, resolving DetectorAuto.
func (c *Config) ResolvedDetector() string {
	d := strings.ToLower(c.Detector)
	if d == DetectorAuto || d == "" {
		if c.VisionAPIKey() != "" {
			return DetectorVision
		}
		return DetectorMotion
	}
	return d
}

// Load reads configuration from environment variables using go-envconfig
// and validates it. It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "INPAINT_API_KEY") {
			return nil, ErrInpaintAPIKeyRequired
		}
		if strings.Contains(err.Error(), "INPAINT_ENDPOINT_ID") {
			return nil, ErrInpaintEndpointIDRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and usable.
func (c *Config) Validate() error {
	if c.InpaintAPIKey == "" {
		return ErrInpaintAPIKeyRequired
	}
	if c.InpaintEndpointID == "" {
		return ErrInpaintEndpointIDRequired
	}
	if !slices.Contains(detectors, strings.ToLower(c.Detector)) {
		return fmt.Errorf("%w: %q", ErrUnknownDetector, c.Detector)
	}
	if !slices.Contains(providers, strings.ToLower(c.VisionProvider)) {
		return fmt.Errorf("%w: %q", ErrUnknownVisionProvider, c.VisionProvider)
	}
	if strings.ToLower(c.Detector) == DetectorVision && c.VisionAPIKey() == "" {
		return fmt.Errorf("%w: %s", ErrVisionAPIKeyRequired, c.VisionProvider)
	}
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: PORT=%d", ErrInvalidValue, c.Port)
	case c.BatchFrames <= 0:
		return fmt.Errorf("%w: BATCH_FRAMES=%d", ErrInvalidValue, c.BatchFrames)
	case c.SampleFrames <= 0:
		return fmt.Errorf("%w: SAMPLE_FRAMES=%d", ErrInvalidValue, c.SampleFrames)
	case c.MergeThreshold < 0:
		return fmt.Errorf("%w: MERGE_THRESHOLD=%d", ErrInvalidValue, c.MergeThreshold)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("%w: MIN_CONFIDENCE=%g", ErrInvalidValue, c.MinConfidence)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WorkDir: %s, InpaintEndpointID: %s, BatchFrames: %d, Detector: %s, VisionProvider: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkDir,
		c.InpaintEndpointID,
		c.BatchFrames,
		c.ResolvedDetector(),
		c.VisionProvider,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
