package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/logger"
)

const (
	// DefaultMaxChars is the number of runes of page text sent to the oracle
	DefaultMaxChars = 20000
	// MinChars is the shortest page text worth an oracle call
	MinChars = 200
)

// Call outcomes reported to an Observer
const (
	OutcomeOK          = "ok"
	OutcomeTooShort    = "too_short"
	OutcomeRateLimited = "rate_limited"
	OutcomeQuota       = "quota_exhausted"
	OutcomeError       = "error"
	OutcomeMalformed   = "malformed"
)

// Observer receives extraction telemetry
type Observer interface {
	OracleCall(outcome string)
	OracleRetry()
}

type nopObserver struct{}

func (nopObserver) OracleCall(string) {}
func (nopObserver) OracleRetry()      {}

// Request describes one extraction
type Request struct {
	PlaceName  string
	PostalCode string
	Text       string
	Now        time.Time
}

// Client extracts event candidates through an Oracle
type Client struct {
	oracle     Oracle
	retry      RetryPolicy
	maxChars   int
	categories []string
	log        *logger.Logger
	observer   Observer
}

// Option configures a Client
type Option func(*Client)

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithMaxChars sets the truncation length; values below 1 keep the default
func WithMaxChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithCategories sets the categories offered in the prompt
func WithCategories(categories []string) Option {
	return func(c *Client) { c.categories = categories }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewClient creates a Client
func NewClient(oracle Oracle, opts ...Option) *Client {
	c := &Client{
		oracle:   oracle,
		retry:    DefaultRetryPolicy(),
		maxChars: DefaultMaxChars,
		log:      logger.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract returns the candidates found in req.Text. Text too short to hold a
// calendar is a genuine empty result. Exhausted rate-limit retries, other
// oracle failures and malformed responses are logged and returned as
// ErrNoResult with no candidates. ErrQuotaExhausted and context errors are
// returned as is.
func (c *Client) Extract(ctx context.Context, req Request) ([]event.Candidate, error) {
	fields := logger.Fields{"place": req.PlaceName}

	text := strings.TrimSpace(req.Text)
	if utf8.RuneCountInString(text) < MinChars {
		c.observer.OracleCall(OutcomeTooShort)
		c.log.Debug("page text too short for extraction", fields)
		return nil, nil
	}
	text = Truncate(text, c.maxChars)

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	prompt, err := RenderPrompt(PromptData{
		PlaceName:  req.PlaceName,
		PostalCode: req.PostalCode,
		Today:      now,
		Categories: c.categories,
	})
	if err != nil {
		return nil, err
	}

	policy := c.retry
	userNotify := policy.Notify
	policy.Notify = func(err error, wait time.Duration) {
		c.observer.OracleRetry()
		c.log.Warn("oracle rate limited, backing off", logger.Fields{
			"place": req.PlaceName,
			"wait":  wait.String(),
		})
		if userNotify != nil {
			userNotify(err, wait)
		}
	}

	raw, err := policy.Do(ctx, func(ctx context.Context) (string, error) {
		return c.oracle.Generate(ctx, prompt, text)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrQuotaExhausted):
		c.observer.OracleCall(OutcomeQuota)
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrRateLimited):
		c.observer.OracleCall(OutcomeRateLimited)
		c.log.Warn("oracle still rate limited after retries", fields)
		return nil, fmt.Errorf("%w: %w", ErrNoResult, err)
	default:
		c.observer.OracleCall(OutcomeError)
		c.log.Warn("oracle call failed", logger.Fields{"place": req.PlaceName, "error": err.Error()})
		return nil, fmt.Errorf("%w: %w", ErrNoResult, err)
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		c.observer.OracleCall(OutcomeMalformed)
		c.log.Warn("discarding malformed oracle response", logger.Fields{
			"place":  req.PlaceName,
			"reason": err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrNoResult, err)
	}

	c.observer.OracleCall(OutcomeOK)
	return candidates, nil
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
