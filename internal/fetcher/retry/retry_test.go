package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	mu       sync.Mutex
	attempts int
	fails    int
	err      error
}

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.fails {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("transient error")
	}
	return []byte("1.2.3.4:8080"), nil
}

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net error" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 2}
	f := New(next, NewPolicy(3, time.Millisecond, 2*time.Millisecond), nil)
	body, err := f.Fetch(context.Background(), "https://lists.example.com")
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4:8080", string(body))
	require.Equal(t, 3, next.attempts)
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 5}
	f := New(next, NewPolicy(2, time.Millisecond, time.Millisecond), nil)
	_, err := f.Fetch(context.Background(), "https://lists.example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempts")
	require.Equal(t, 2, next.attempts)
}

func TestFetchWithoutPolicyDoesNotRetry(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 1}
	_, err := New(next, nil, nil).Fetch(context.Background(), "https://lists.example.com")
	require.EqualError(t, err, "transient error")
	require.Equal(t, 1, next.attempts)
}

func TestFetchStopsDuringBackoff(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 5}
	f := New(next, NewPolicy(5, time.Hour, time.Hour), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "https://lists.example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, next.attempts)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewPolicy(3, time.Millisecond, time.Millisecond)
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.True(t, p.ShouldRetry(timeoutErr{timeout: true}, 1))
	require.False(t, p.ShouldRetry(timeoutErr{timeout: false}, 1))
	require.Equal(t, 1, NewPolicy(0, 0, 0).MaxAttempts())
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(3)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
	require.GreaterOrEqual(t, p.Backoff(10), 2500*time.Millisecond)
}
