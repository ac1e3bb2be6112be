package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/model"
)

// Default retry/backoff settings
const (
	DefaultRetryAttempts  = 3
	DefaultBaseDelay      = 3 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultPerItemTimeout = 30 * time.Minute
)

// DefaultUserAgents is the identity pool rotated between attempts.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// Config tunes a fetch coordinator.
type Config struct {
	MaxParallel    int
	RetryAttempts  int           // retries after the first attempt
	PerItemTimeout time.Duration // budget per attempt
	BaseDelay      time.Duration // backoff base, doubled per retry
	MaxDelay       time.Duration // backoff cap
	Format         string        // primary format specifier
	FallbackFormat string        // used after the primary is rejected as invalid
	UserAgents     []string      // identity pool, rotated per attempt
}

// Result is the terminal outcome for one item: a local file path on
// success, or the last error after the retry budget ran out.
type Result struct {
	Item     model.Item
	Path     string
	Err      error
	Attempts int
}

// OK reports whether the item reached a usable local file.
func (r Result) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Kind returns the failure classification, or "" on success.
func (r Result) Kind() FailureKind {
	return KindOf(r.Err)
}

// Coordinator downloads a candidate set with bounded parallelism. Items
// fail independently; the coordinator only returns once every item has a
// terminal outcome, and results always come back in candidate order no
// matter which worker finished first.
type Coordinator struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator, filling unset config fields with
// defaults.
func NewCoordinator(fetcher Fetcher, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.PerItemTimeout <= 0 {
		cfg.PerItemTimeout = DefaultPerItemTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}

	return &Coordinator{fetcher: fetcher, cfg: cfg, logger: logger}
}

// FetchAll downloads all items and returns one Result per input item, in
// input order. It never returns early: a cancelled context marks the
// remaining items as cancelled rather than dropping them.
func (c *Coordinator) FetchAll(ctx context.Context, items []model.Item) []Result {
	results := make([]Result, len(items))
	for i := range items {
		results[i] = Result{Item: items[i]}
	}
	if len(items) == 0 {
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := c.cfg.MaxParallel
	if workers > len(items) {
		workers = len(items)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.fetchOne(ctx, items[i])
			}
		}()
	}

	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	// Items never handed to a worker have no outcome yet; on
	// cancellation they terminate as cancelled.
	for i := range results {
		if results[i].Attempts == 0 && results[i].Err == nil && results[i].Path == "" {
			results[i].Err = NewError(FailureCancelled, ctx.Err())
		}
	}

	return results
}

// fetchOne runs the retry loop for a single item. Every attempt gets its
// own timeout and its own identity; the format specifier switches to the
// fallback once the capability rejects the primary as invalid.
func (c *Coordinator) fetchOne(ctx context.Context, item model.Item) Result {
	result := Result{Item: item}
	format := c.cfg.Format

	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoffDelay(attempt)):
			case <-ctx.Done():
				result.Err = NewError(FailureCancelled, ctx.Err())
				return result
			}

			c.logger.Debug("retrying fetch",
				zap.String("item", item.ExternalID),
				zap.Int("attempt", attempt+1))
		}

		opts := AttemptOptions{
			Format:    format,
			UserAgent: c.cfg.UserAgents[attempt%len(c.cfg.UserAgents)],
			Attempt:   attempt,
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.PerItemTimeout)
		path, err := c.fetcher.Fetch(attemptCtx, item, opts)
		cancel()

		result.Attempts++

		if err == nil {
			result.Path = path
			result.Err = nil
			return result
		}

		if ctx.Err() != nil {
			result.Err = NewError(FailureCancelled, ctx.Err())
			return result
		}

		kind := KindOf(err)
		if kind == FailureTimeout || (attemptCtx.Err() == context.DeadlineExceeded && kind == FailureUnknown) {
			err = NewError(FailureTimeout, err)
			kind = FailureTimeout
		}
		result.Err = err

		c.logger.Warn("fetch attempt failed",
			zap.String("item", item.ExternalID),
			zap.Int("attempt", attempt+1),
			zap.String("kind", kind.String()),
			zap.Error(err))

		if !kind.Retryable() {
			return result
		}
		if kind == FailureInvalidFormat && format != c.cfg.FallbackFormat && c.cfg.FallbackFormat != "" {
			format = c.cfg.FallbackFormat
		}
	}

	return result
}

// backoffDelay is base × 2^(attempt-1), capped at MaxDelay.
func (c *Coordinator) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}
