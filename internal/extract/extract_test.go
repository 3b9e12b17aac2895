package extract

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/bake-events/internal/logger"
)

type recordingObserver struct {
	outcomes []string
	retries  int
}

func (r *recordingObserver) OracleCall(outcome string) { r.outcomes = append(r.outcomes, outcome) }
func (r *recordingObserver) OracleRetry()              { r.retries++ }

var pageText = strings.Repeat("Lego Club every Saturday at the Springfield branch. ", 10)

func newTestClient(o Oracle, obs Observer, timer *fakeTimer) *Client {
	p := DefaultRetryPolicy()
	p.Timer = timer
	return NewClient(o,
		WithRetryPolicy(p),
		WithLogger(logger.New(logger.LevelDebug, io.Discard)),
		WithObserver(obs),
	)
}

func TestClient_Extract(t *testing.T) {
	var gotPrompt, gotText string
	oracle := OracleFunc(func(ctx context.Context, prompt, text string) (string, error) {
		gotPrompt, gotText = prompt, text
		return `[{"title":"Lego Club","event_date":"2026-10-24","window_type":"Daily"}]`, nil
	})
	obs := &recordingObserver{}

	got, err := newTestClient(oracle, obs, newFakeTimer()).Extract(context.Background(), Request{
		PlaceName:  "Springfield Public Library",
		PostalCode: "11111",
		Text:       pageText,
		Now:        time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Lego Club", got[0].Title)
	assert.Contains(t, gotPrompt, "Today is Monday, October 19, 2026.")
	assert.Contains(t, gotPrompt, "Springfield Public Library (postal code 11111)")
	assert.Equal(t, strings.TrimSpace(pageText), gotText)
	assert.Equal(t, []string{OutcomeOK}, obs.outcomes)
}

func TestClient_RetriesRateLimitThenSucceeds(t *testing.T) {
	calls := 0
	oracle := OracleFunc(func(context.Context, string, string) (string, error) {
		calls++
		if calls <= 2 {
			return "", ErrRateLimited
		}
		return "[]", nil
	})
	obs := &recordingObserver{}
	timer := newFakeTimer()

	got, err := newTestClient(oracle, obs, timer).Extract(context.Background(), Request{Text: pageText})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, obs.retries)
	assert.Equal(t, 45*time.Second, timer.total())
}

func TestClient_FailureModes(t *testing.T) {
	tests := []struct {
		name        string
		oracleErr   error
		response    string
		wantErr     error
		wantOutcome string
		wantCalls   int
	}{
		{"rate limit exhausted", ErrRateLimited, "", ErrNoResult, OutcomeRateLimited, 3},
		{"quota exhausted", ErrQuotaExhausted, "", ErrQuotaExhausted, OutcomeQuota, 1},
		{"other oracle error", errors.New("connection reset"), "", ErrNoResult, OutcomeError, 1},
		{"malformed response", nil, `[{"title": "cut off`, ErrNoResult, OutcomeMalformed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			oracle := OracleFunc(func(context.Context, string, string) (string, error) {
				calls++
				return tt.response, tt.oracleErr
			})
			obs := &recordingObserver{}

			got, err := newTestClient(oracle, obs, newFakeTimer()).Extract(context.Background(), Request{Text: pageText})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, got)
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, []string{tt.wantOutcome}, obs.outcomes)
		})
	}
}

func TestClient_RateLimitExhaustionKeepsCause(t *testing.T) {
	oracle := OracleFunc(func(context.Context, string, string) (string, error) {
		return "", ErrRateLimited
	})

	_, err := newTestClient(oracle, &recordingObserver{}, newFakeTimer()).Extract(context.Background(), Request{Text: pageText})
	assert.ErrorIs(t, err, ErrNoResult)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrQuotaExhausted)
}

func TestClient_ShortTextSkipsOracle(t *testing.T) {
	called := false
	oracle := OracleFunc(func(context.Context, string, string) (string, error) {
		called = true
		return "[]", nil
	})
	obs := &recordingObserver{}

	got, err := newTestClient(oracle, obs, newFakeTimer()).Extract(context.Background(), Request{Text: "Closed today."})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called)
	assert.Equal(t, []string{OutcomeTooShort}, obs.outcomes)
}

func TestClient_TruncatesText(t *testing.T) {
	var gotText string
	oracle := OracleFunc(func(_ context.Context, _ string, text string) (string, error) {
		gotText = text
		return "[]", nil
	})
	c := NewClient(oracle, WithMaxChars(250), WithLogger(logger.New(logger.LevelError, io.Discard)))

	_, err := c.Extract(context.Background(), Request{Text: strings.Repeat("é", 1000)})
	require.NoError(t, err)
	assert.Equal(t, 250, utf8.RuneCountInString(gotText))
}

func TestClient_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := OracleFunc(func(ctx context.Context, _, _ string) (string, error) {
		return "", ctx.Err()
	})
	_, err := newTestClient(oracle, &recordingObserver{}, newFakeTimer()).Extract(ctx, Request{Text: pageText})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}
