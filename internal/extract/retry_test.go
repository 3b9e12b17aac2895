package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires immediately and records every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	ch    chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{ch: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	f.ch <- time.Time{}
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.ch }

func (f *fakeTimer) total() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum time.Duration
	for _, w := range f.waits {
		sum += w
	}
	return sum
}

func TestRetryPolicy_RateLimitedTwiceThenSuccess(t *testing.T) {
	timer := newFakeTimer()
	p := DefaultRetryPolicy()
	p.Timer = timer

	calls := 0
	out, err := p.Do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", ErrRateLimited
		}
		return "[]", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second}, timer.waits)
	assert.Equal(t, p.Delay(1)+p.Delay(2), timer.total())
}

func TestRetryPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	timer := newFakeTimer()
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, Timer: timer}

	calls := 0
	_, err := p.Do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", ErrRateLimited
	})

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.waits)
}

func TestRetryPolicy_DoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	for _, e := range []error{boom, ErrQuotaExhausted} {
		timer := newFakeTimer()
		p := DefaultRetryPolicy()
		p.Timer = timer

		calls := 0
		_, err := p.Do(context.Background(), func(context.Context) (string, error) {
			calls++
			return "", e
		})
		assert.ErrorIs(t, err, e)
		assert.Equal(t, 1, calls)
		assert.Empty(t, timer.waits)
	}
}

func TestRetryPolicy_Notify(t *testing.T) {
	var notified []time.Duration
	p := DefaultRetryPolicy()
	p.Timer = newFakeTimer()
	p.Notify = func(err error, wait time.Duration) {
		assert.ErrorIs(t, err, ErrRateLimited)
		notified = append(notified, wait)
	}

	calls := 0
	_, err := p.Do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", ErrRateLimited
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{15 * time.Second}, notified)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 15*time.Second, p.Delay(1))
	assert.Equal(t, 30*time.Second, p.Delay(2))
	assert.Equal(t, 60*time.Second, p.Delay(3))
}
