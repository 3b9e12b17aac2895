package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/bake-events/internal/config"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/metrics"
	"github.com/pfrederiksen/bake-events/internal/notifier"
	"github.com/pfrederiksen/bake-events/internal/pipeline"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

const notifyTimeout = 30 * time.Second

var (
	flagDryRun          bool
	flagNotify          string
	flagMetricsTextfile string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one discovery pass over the selected masters",
		Long: `Fetch each selected master's page, extract events, validate and attribute
them, then write them to the store under the configured dedup policy.

Exits 1 when the oracle's daily quota runs out and 130 when interrupted.`,
		Args: cobra.NoArgs,
		RunE: runPipeline,
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Extract and validate but do not write to the store")
	cmd.Flags().StringVar(&flagNotify, "notify", "", "Notify mode override: none, log or amqp")
	cmd.Flags().StringVar(&flagMetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file at the end of the run")
	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("notify") {
		cfg.Notify.Mode = flagNotify
	}
	if cmd.Flags().Changed("metrics-textfile") {
		cfg.Metrics.Textfile = flagMetricsTextfile
	}
	// dry runs never publish
	if flagDryRun && cfg.Notify.Mode == notifier.ModeAMQP {
		cfg.Notify.Mode = notifier.ModeLog
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var target storage.Store = store
	var dry *storage.DryRunStore
	if flagDryRun {
		dry = storage.NewDryRun(store)
		target = dry
	}

	m := metrics.New()
	extractor, err := newExtractor(cfg, log, m)
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Deps{
		Store:     target,
		Fetcher:   newFetcher(cfg),
		Extractor: extractor,
		Metrics:   m,
		Logger:    log,
	}, opts)

	sum, runErr := p.Run(ctx)

	if path := cfg.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			log.Error("failed to write metrics textfile", logger.Fields{"path": path}, err)
		}
	}

	if sum != nil && len(sum.Written) > 0 {
		announce(ctx, cfg.Notify, cmd.ErrOrStderr(), sum, log)
	}

	if sum != nil {
		result := &RunResult{Summary: sum, DryRun: flagDryRun}
		if dry != nil {
			result.WouldInsert, result.WouldDelete, result.WouldMark = dry.Writes()
		}
		if err := WriteRun(cmd.OutOrStdout(), result, OutputFormat(flagFormat)); err != nil {
			return err
		}
	}
	return runErr
}

// announce hands inserted events to the configured notifier. Failures are
// logged; they never fail the run.
func announce(ctx context.Context, cfg config.NotifyConfig, out io.Writer, sum *pipeline.Summary, log *logger.Logger) {
	n, err := notifier.New(notifier.Config{
		Mode:       cfg.Mode,
		AMQPURL:    cfg.AMQPURL,
		Exchange:   cfg.Exchange,
		RoutingKey: cfg.RoutingKey,
		Output:     out,
	})
	if err != nil {
		log.Error("failed to set up notifier", logger.Fields{"mode": cfg.Mode}, err)
		return
	}
	defer n.Close()

	// rows are already committed, so announce them even after an interrupt
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.Notify(nctx, sum.Written); err != nil {
		log.Error("failed to announce events", logger.Fields{"mode": cfg.Mode, "events": len(sum.Written)}, err)
		return
	}
	log.Info("events announced", logger.Fields{"mode": cfg.Mode, "events": len(sum.Written)})
}
