// Package retry wraps outbound calls with exponential backoff. Only errors
// classified as transient by internal/errors are retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// Config configures exponential backoff behavior.
type Config struct {
	// MaxAttempts counts the first call. 1 disables retries.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps any single wait.
	MaxDelay time.Duration

	// Multiplier is the factor applied to the delay after each retry.
	Multiplier float64

	// Jitter spreads delays by +/- this fraction (0.2 = 20%).
	Jitter float64
}

// DefaultConfig returns the settings used for WhatsApp sends.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retrier runs operations with retry.
type Retrier struct {
	config Config
	logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a Retrier. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Retrier {
	if logger == nil {
		panic("logger is required")
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = def.Jitter
	}
	return &Retrier{
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
}

// MaxAttempts returns the configured attempt limit.
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retriable error, or the
// attempts are used up. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the result-returning form of Retrier.Do.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("operation succeeded after retry",
					zap.String("op", op),
					zap.Int("attempts", attempt),
				)
			}
			return result, nil
		}

		if attempt >= r.config.MaxAttempts || !shouldRetry(err) {
			return result, err
		}

		delay := r.Delay(attempt)
		r.logger.Warn("operation failed, retrying with backoff",
			zap.String("op", op),
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		if serr := r.sleep(ctx, delay); serr != nil {
			return result, err
		}
	}
}

// Delay returns the wait after the given (1-based) failed attempt.
func (r *Retrier) Delay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if r.config.Jitter > 0 {
		spread := delay * r.config.Jitter
		delay += (r.jitter()*2 - 1) * spread
	}

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// An open breaker will not close within our backoff window.
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		return false
	}
	return apperrors.IsRetriable(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
