package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// ErrInvalidSettings wraps every settings or filter validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings parameterise one run.
type Settings struct {
	Sources       []string
	ProxyType     proxy.Type
	Timeout       time.Duration
	Concurrency   int
	BatchSize     int
	RatePerSecond int
	FetchTimeout  time.Duration
	Filter        proxy.FilterConfig
}

// Validate rejects settings a run cannot start with.
func (s Settings) Validate() error {
	var errs []error
	if s.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0"))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be > 0"))
	}
	if s.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be > 0"))
	}
	if s.RatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("rate per second must be > 0"))
	}
	if _, err := proxy.ParseType(string(s.ProxyType)); err != nil {
		errs = append(errs, err)
	}
	if err := s.Filter.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(s.Sources) == 0 {
		errs = append(errs, fmt.Errorf("at least one source is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}
