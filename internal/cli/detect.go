package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/maauso/subclean-api/internal/bootstrap"
	"github.com/maauso/subclean-api/internal/config"
	"github.com/maauso/subclean-api/internal/detect"
	"github.com/maauso/subclean-api/internal/media"
	"github.com/maauso/subclean-api/internal/region"
	"github.com/maauso/subclean-api/internal/task"
)

// errDetectionDisabled is returned when --detector none is requested.
var errDetectionDisabled = errors.New("detection is disabled")

// DetectSettings configures one local detection run.
type DetectSettings struct {
	Config *config.Config
	// HitsPath points at a JSON hit file. It overrides the detector choice.
	HitsPath string
}

// providerKeys holds the vision API keys, read from the environment only.
type providerKeys struct {
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
}

type detectResult struct {
	Video string `json:"video"`
	*region.Analysis
	SubtitleRegions [][]float64 `json:"subtitle_regions"`
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	cfg := &config.Config{}
	var hitsPath string

	cmd := &cobra.Command{
		Use:   "detect VIDEO",
		Short: "Detect hard subtitle regions in a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var keys providerKeys
			if err := envconfig.Process(cmd.Context(), &keys); err != nil {
				return fmt.Errorf("read API keys: %w", err)
			}
			cfg.GeminiAPIKey = keys.GeminiAPIKey
			cfg.OpenAIAPIKey = keys.OpenAIAPIKey
			cfg.AnthropicAPIKey = keys.AnthropicAPIKey
			if hitsPath != "" {
				cfg.Detector = config.DetectorHits
			}

			logger := ctx.logger(cmd)
			det, err := ctx.newDetector(cmd.Context(), DetectSettings{Config: cfg, HitsPath: hitsPath}, logger)
			if err != nil {
				return err
			}
			if det == nil {
				return errDetectionDisabled
			}

			video := args[0]
			a, err := det.Detect(cmd.Context(), video)
			if err != nil {
				return fmt.Errorf("detect %s: %w", video, err)
			}
			if a == nil {
				a = region.Empty(region.Video{})
			}

			out := cmd.OutOrStdout()
			if ctx.useTable(out) {
				return renderRegions(out, video, a)
			}
			return writeJSON(out, detectResult{
				Video:           video,
				Analysis:        a,
				SubtitleRegions: region.ToFlat(a.Regions),
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Detector, "detector", config.DetectorAuto, "Detector: auto, vision, motion, hits or none")
	flags.StringVar(&cfg.VisionProvider, "provider", config.ProviderGemini, "Vision provider: gemini, openai or anthropic")
	flags.StringVar(&cfg.VisionModel, "model", "", "Vision model name (provider default when empty)")
	flags.StringVar(&hitsPath, "hits", "", "Consolidate hits from this JSON file instead of running a detector")
	flags.StringVar(&cfg.HitsMode, "mode", string(detect.ModeCluster), "Hit consolidation mode: cluster, bucket or perhit")
	flags.IntVar(&cfg.SampleFrames, "samples", 30, "Frames sampled for vision detection")
	flags.Float64Var(&cfg.MinConfidence, "min-confidence", 0.5, "Drop vision hits below this confidence")
	flags.IntVar(&cfg.MergeThreshold, "merge-threshold", region.DefaultMergeFrames, "Merge regions closer than this many frames")
	flags.StringVar(&cfg.TuningFile, "tuning", "", "TOML file overriding region tuning")
	flags.StringVar(&cfg.FFmpegPath, "ffmpeg", "ffmpeg", "Path to ffmpeg")
	flags.StringVar(&cfg.FFprobePath, "ffprobe", "ffprobe", "Path to ffprobe")

	return cmd
}

func defaultDetectorFactory(ctx context.Context, s DetectSettings, logger *slog.Logger) (task.Detector, error) {
	params, err := bootstrap.LoadParams(s.Config)
	if err != nil {
		return nil, err
	}
	ff := media.NewFFmpeg(s.Config.FFmpegPath, s.Config.FFprobePath)

	if s.HitsPath != "" {
		mode, err := detect.ParseMode(s.Config.HitsMode)
		if err != nil {
			return nil, err
		}
		return detect.NewConsolidatingDetector(ff, detect.FileHitSource{Path: s.HitsPath}, mode, params, logger), nil
	}
	return bootstrap.NewDetector(ctx, s.Config, ff, params, logger)
}
