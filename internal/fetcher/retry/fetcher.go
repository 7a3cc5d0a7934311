package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// Fetcher retries a wrapped proxy.Fetcher according to a Policy.
type Fetcher struct {
	next   proxy.Fetcher
	policy *Policy
	logger *zap.Logger
}

// New wraps next. A nil policy disables retries.
func New(next proxy.Fetcher, policy *Policy, logger *zap.Logger) *Fetcher {
	if policy == nil {
		policy = NewPolicy(1, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, policy: policy, logger: logger}
}

// Fetch implements proxy.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		body, err := f.next.Fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			if attempt > 1 {
				return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return nil, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Debug("source fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
