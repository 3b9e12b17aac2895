// Package config loads run configuration from a YAML file, a .env file and
// BAKE_* environment variables, in increasing order of precedence. Command
// line flags are applied on top by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/bake-events/internal/attribution"
	"github.com/pfrederiksen/bake-events/internal/dedup"
	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/filter"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/scheduler"
)

// DefaultStoreDSN is the snapshot file used when no database is configured
const DefaultStoreDSN = "~/.local/share/bake-events/snapshot.json"

type LookaheadConfig struct {
	Recurring int `yaml:"recurring"`
	Periodic  int `yaml:"periodic"`
	OneTime   int `yaml:"one_time"`
}

type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	RenderDelay time.Duration `yaml:"render_delay"`
	UserAgent   string        `yaml:"user_agent"`
}

type OracleConfig struct {
	APIKey      string        `yaml:"-"` // GEMINI_API_KEY only
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`
	MinInterval time.Duration `yaml:"min_interval"` // spacing between calls
	Timeout     time.Duration `yaml:"timeout"`      // per call, including retries
	MaxChars    int           `yaml:"max_chars"`
	Categories  []string      `yaml:"categories"`
}

type StoreConfig struct {
	DSN     string        `yaml:"dsn"` // postgres://, sqlite://, file:// or a bare path
	Timeout time.Duration `yaml:"timeout"`
}

type DedupConfig struct {
	Policy string `yaml:"policy"` // merge | replace
}

type AttributionConfig struct {
	Default string             `yaml:"default"` // broadcast | single | hint
	Rules   []attribution.Rule `yaml:"rules"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type NotifyConfig struct {
	Mode       string `yaml:"mode"` // none | log | amqp
	AMQPURL    string `yaml:"-"`    // AMQP_URL only
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Config is the complete run configuration
type Config struct {
	RetentionDays      int               `yaml:"retention_days"`
	LookaheadDays      LookaheadConfig   `yaml:"lookahead_days"`
	Schedule           string            `yaml:"schedule"` // all | rotating
	BatchSize          int               `yaml:"batch_size"`
	MaxRetries         int               `yaml:"max_retries"`
	BaseBackoffSeconds int               `yaml:"base_backoff_seconds"`
	EntityFilter       string            `yaml:"entity_filter"`
	ExcludedCategories []string          `yaml:"excluded_categories"`
	FetchWorkers       int               `yaml:"fetch_workers"`
	Timezone           string            `yaml:"timezone"`
	Fetch              FetchConfig       `yaml:"fetch"`
	Oracle             OracleConfig      `yaml:"oracle"`
	Store              StoreConfig       `yaml:"store"`
	Dedup              DedupConfig       `yaml:"dedup"`
	Attribution        AttributionConfig `yaml:"attribution"`
	Metrics            MetricsConfig     `yaml:"metrics"`
	Notify             NotifyConfig      `yaml:"notify"`
	Log                LogConfig         `yaml:"log"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		RetentionDays: 0,
		LookaheadDays: LookaheadConfig{Recurring: 14, Periodic: 45, OneTime: 90},
		Schedule:      string(scheduler.ModeAll),
		BatchSize:     10,
		MaxRetries:    3,

		BaseBackoffSeconds: 15,
		FetchWorkers:       4,
		Timezone:           "Local",
		Fetch: FetchConfig{
			Timeout: 45 * time.Second,
		},
		Oracle: OracleConfig{
			MinInterval: 10 * time.Second,
			Timeout:     3 * time.Minute,
			MaxChars:    20000,
		},
		Store: StoreConfig{
			DSN:     DefaultStoreDSN,
			Timeout: 30 * time.Second,
		},
		Dedup:       DedupConfig{Policy: string(dedup.PolicyMerge)},
		Attribution: AttributionConfig{Default: string(attribution.KindBroadcast)},
		Notify:      NotifyConfig{Mode: "none", Exchange: "bake.events", RoutingKey: "events.inserted"},
		Log:         LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the .env file at envFile (skipped when missing) and the process
// environment.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("GEMINI_API_KEY", &c.Oracle.APIKey)
	str("DATABASE_URL", &c.Store.DSN)
	str("AMQP_URL", &c.Notify.AMQPURL)

	str("BAKE_STORE_DSN", &c.Store.DSN)
	str("BAKE_SCHEDULE", &c.Schedule)
	str("BAKE_ENTITY_FILTER", &c.EntityFilter)
	str("BAKE_DEDUP_POLICY", &c.Dedup.Policy)
	str("BAKE_ATTRIBUTION_DEFAULT", &c.Attribution.Default)
	str("BAKE_METRICS_TEXTFILE", &c.Metrics.Textfile)
	str("BAKE_NOTIFY_MODE", &c.Notify.Mode)
	str("BAKE_LOG_LEVEL", &c.Log.Level)
	str("BAKE_LOG_FORMAT", &c.Log.Format)
	str("BAKE_TIMEZONE", &c.Timezone)
	str("BAKE_ORACLE_MODEL", &c.Oracle.Model)

	for key, dst := range map[string]*int{
		"BAKE_RETENTION_DAYS":       &c.RetentionDays,
		"BAKE_BATCH_SIZE":           &c.BatchSize,
		"BAKE_MAX_RETRIES":          &c.MaxRetries,
		"BAKE_BASE_BACKOFF_SECONDS": &c.BaseBackoffSeconds,
		"BAKE_FETCH_WORKERS":        &c.FetchWorkers,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0, got %d", c.RetentionDays)
	}
	if c.LookaheadDays.Recurring < 0 || c.LookaheadDays.Periodic < 0 || c.LookaheadDays.OneTime < 0 {
		return fmt.Errorf("lookahead_days must be >= 0")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.BaseBackoffSeconds < 0 {
		return fmt.Errorf("base_backoff_seconds must be >= 0, got %d", c.BaseBackoffSeconds)
	}
	if c.FetchWorkers < 1 {
		return fmt.Errorf("fetch_workers must be >= 1, got %d", c.FetchWorkers)
	}

	mode, err := scheduler.ParseMode(c.Schedule)
	if err != nil {
		return err
	}
	if err := c.SchedulePolicy(mode).Validate(); err != nil {
		return err
	}
	if _, err := dedup.ParsePolicy(c.Dedup.Policy); err != nil {
		return err
	}
	if _, err := attribution.ParseKind(c.Attribution.Default); err != nil {
		return fmt.Errorf("attribution.default: %w", err)
	}
	for i, r := range c.Attribution.Rules {
		if _, err := attribution.ParseKind(string(r.Strategy)); err != nil {
			return fmt.Errorf("attribution.rules[%d]: %w", i, err)
		}
	}
	if _, err := filter.Parse(c.EntityFilter); err != nil {
		return fmt.Errorf("entity_filter: %w", err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch logger.Format(c.Log.Format) {
	case logger.FormatJSON, logger.FormatConsole:
	default:
		return fmt.Errorf("unknown log format: %q", c.Log.Format)
	}
	switch c.Notify.Mode {
	case "", "none", "log":
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return fmt.Errorf("notify mode amqp requires AMQP_URL")
		}
	default:
		return fmt.Errorf("unknown notify mode: %q", c.Notify.Mode)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// SchedulePolicy returns the scheduler policy for mode
func (c *Config) SchedulePolicy(mode scheduler.Mode) scheduler.Policy {
	return scheduler.Policy{Mode: mode, BatchSize: c.BatchSize}
}

// Lookahead returns the validator horizons keyed by window type
func (c *Config) Lookahead() map[event.WindowType]int {
	return map[event.WindowType]int{
		event.WindowRecurring: c.LookaheadDays.Recurring,
		event.WindowPeriodic:  c.LookaheadDays.Periodic,
		event.WindowOneTime:   c.LookaheadDays.OneTime,
	}
}

// Location resolves the configured time zone used for "today"
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// BaseBackoff returns the first retry delay
func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}
