package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/bake-events/internal/attribution"
	"github.com/pfrederiksen/bake-events/internal/config"
	"github.com/pfrederiksen/bake-events/internal/dedup"
	"github.com/pfrederiksen/bake-events/internal/extract"
	"github.com/pfrederiksen/bake-events/internal/fetcher"
	"github.com/pfrederiksen/bake-events/internal/filter"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/metrics"
	"github.com/pfrederiksen/bake-events/internal/pipeline"
	"github.com/pfrederiksen/bake-events/internal/scheduler"
	"github.com/pfrederiksen/bake-events/internal/storage"
	"github.com/pfrederiksen/bake-events/internal/storage/postgres"
	"github.com/pfrederiksen/bake-events/internal/storage/sqlite"
)

// loadConfig reads the config file and environment, then applies the
// persistent flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig, flagEnvFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("dsn") {
		cfg.Store.DSN = flagDSN
	}
	if flags.Changed("filter") {
		cfg.EntityFilter = flagFilter
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if flagVerbose && !flags.Changed("log-level") {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// newLogger builds the run logger and installs it as the package default.
// Logs go to stderr so stdout stays clean for command output.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logger.NewWithFormat(level, os.Stderr, logger.Format(cfg.Log.Format))
	logger.SetDefault(log)
	return log, nil
}

// openStore picks a backend from the DSN scheme
func openStore(ctx context.Context, dsn string) (storage.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		s, err := sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	case dsn == "":
		return nil, fmt.Errorf("no store configured")
	default:
		s, err := storage.OpenFile(strings.TrimPrefix(dsn, "file://"))
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		return s, nil
	}
}

// pipelineOptions maps the configuration onto pipeline options
func pipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	mode, err := scheduler.ParseMode(cfg.Schedule)
	if err != nil {
		return pipeline.Options{}, err
	}
	policy, err := dedup.ParsePolicy(cfg.Dedup.Policy)
	if err != nil {
		return pipeline.Options{}, err
	}
	kind, err := attribution.ParseKind(cfg.Attribution.Default)
	if err != nil {
		return pipeline.Options{}, err
	}
	rules := make([]attribution.Rule, len(cfg.Attribution.Rules))
	for i, r := range cfg.Attribution.Rules {
		k, err := attribution.ParseKind(string(r.Strategy))
		if err != nil {
			return pipeline.Options{}, err
		}
		r.Strategy = k
		rules[i] = r
	}
	flt, err := filter.Parse(cfg.EntityFilter)
	if err != nil {
		return pipeline.Options{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return pipeline.Options{}, err
	}

	return pipeline.Options{
		RetentionDays:      cfg.RetentionDays,
		Lookahead:          cfg.Lookahead(),
		ExcludedCategories: cfg.ExcludedCategories,
		Filter:             flt,
		Schedule:           cfg.SchedulePolicy(mode),
		DedupPolicy:        policy,
		Attribution:        kind,
		Rules:              rules,
		FetchWorkers:       cfg.FetchWorkers,
		OracleSpacing:      cfg.Oracle.MinInterval,
		FetchTimeout:       cfg.Fetch.Timeout,
		ExtractTimeout:     cfg.Oracle.Timeout,
		StoreTimeout:       cfg.Store.Timeout,
		Location:           loc,
	}, nil
}

// newExtractor builds the Gemini backed extraction client. Retries are
// counted and logged through the metrics observer.
func newExtractor(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*extract.Client, error) {
	if cfg.Oracle.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	oracle := extract.NewGemini(cfg.Oracle.APIKey, cfg.Oracle.Model)
	if cfg.Oracle.Endpoint != "" {
		oracle.Endpoint = cfg.Oracle.Endpoint
	}

	retry := extract.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxRetries
	retry.BaseDelay = cfg.BaseBackoff()

	opts := []extract.Option{
		extract.WithRetryPolicy(retry),
		extract.WithMaxChars(cfg.Oracle.MaxChars),
		extract.WithLogger(log),
		extract.WithObserver(m),
	}
	if len(cfg.Oracle.Categories) > 0 {
		opts = append(opts, extract.WithCategories(cfg.Oracle.Categories))
	}
	return extract.NewClient(oracle, opts...), nil
}

func newFetcher(cfg *config.Config) *fetcher.HTTPFetcher {
	return fetcher.New(
		fetcher.WithUserAgent(cfg.Fetch.UserAgent),
		fetcher.WithRenderDelay(cfg.Fetch.RenderDelay),
	)
}
