// Package ratelimit caps language model usage so a chatty customer or a
// large follow-up batch cannot run up the API bill.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/clock"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// Errors returned when a call is refused.
var (
	ErrMinuteLimitExceeded     = apperrors.New(apperrors.CodeRateLimited, "model minute budget exhausted")
	ErrHourLimitExceeded       = apperrors.New(apperrors.CodeRateLimited, "model hour budget exhausted")
	ErrDayLimitExceeded        = apperrors.New(apperrors.CodeRateLimited, "model day budget exhausted")
	ErrConcurrentLimitExceeded = apperrors.New(apperrors.CodeRateLimited, "too many concurrent model calls")
)

// ModelLimiterConfig holds the call budget. A zero limit disables that check.
type ModelLimiterConfig struct {
	MaxCallsPerMinute int
	MaxCallsPerHour   int
	MaxCallsPerDay    int
	MaxConcurrent     int
}

// DefaultModelLimiterConfig returns the default budget.
func DefaultModelLimiterConfig() ModelLimiterConfig {
	return ModelLimiterConfig{
		MaxCallsPerMinute: 30,
		MaxCallsPerHour:   600,
		MaxCallsPerDay:    5000,
		MaxConcurrent:     8,
	}
}

// ModelLimiter admits or refuses model calls against fixed windows and a
// concurrency cap. Refusals are immediate: callers fall back to templates
// rather than wait.
type ModelLimiter struct {
	mu sync.Mutex

	maxConcurrent int
	minute        *window
	hour          *window
	day           *window
	active        int

	totalCalls    int64
	totalRejected int64
	lastReason    string

	clock  clock.Clock
	logger *zap.Logger
}

// NewModelLimiter creates a ModelLimiter. A nil clock uses the system clock.
func NewModelLimiter(cfg ModelLimiterConfig, clk clock.Clock, logger *zap.Logger) *ModelLimiter {
	if logger == nil {
		panic("logger is required")
	}
	clk = clock.OrDefault(clk)
	now := clk.Now()
	return &ModelLimiter{
		maxConcurrent: cfg.MaxConcurrent,
		minute:        newWindow(cfg.MaxCallsPerMinute, time.Minute, now),
		hour:          newWindow(cfg.MaxCallsPerHour, time.Hour, now),
		day:           newWindow(cfg.MaxCallsPerDay, 24*time.Hour, now),
		clock:         clk,
		logger:        logger.Named("model_limiter"),
	}
}

// Acquire takes a slot. Every successful Acquire must be paired with Release.
func (l *ModelLimiter) Acquire(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalCalls++
	now := l.clock.Now()

	if l.maxConcurrent > 0 && l.active >= l.maxConcurrent {
		return l.reject("concurrent", ErrConcurrentLimitExceeded)
	}
	if !l.minute.take(now) {
		return l.reject("minute", ErrMinuteLimitExceeded)
	}
	if !l.hour.take(now) {
		l.minute.give()
		return l.reject("hour", ErrHourLimitExceeded)
	}
	if !l.day.take(now) {
		l.minute.give()
		l.hour.give()
		return l.reject("day", ErrDayLimitExceeded)
	}

	l.active++
	return nil
}

// Release frees the concurrency slot taken by Acquire.
func (l *ModelLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

func (l *ModelLimiter) reject(reason string, err error) error {
	l.totalRejected++
	l.lastReason = reason
	l.logger.Warn("model call refused",
		zap.String("reason", reason),
		zap.Int64("total_rejected", l.totalRejected),
	)
	return err
}

// ModelLimiterStats is a snapshot of the limiter.
type ModelLimiterStats struct {
	Active          int    `json:"active"`
	MinuteRemaining int    `json:"minute_remaining"`
	HourRemaining   int    `json:"hour_remaining"`
	DayRemaining    int    `json:"day_remaining"`
	TotalCalls      int64  `json:"total_calls"`
	TotalRejected   int64  `json:"total_rejected"`
	LastReason      string `json:"last_reason,omitempty"`
}

// Stats returns the current counters.
func (l *ModelLimiter) Stats() ModelLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	return ModelLimiterStats{
		Active:          l.active,
		MinuteRemaining: l.minute.remaining(now),
		HourRemaining:   l.hour.remaining(now),
		DayRemaining:    l.day.remaining(now),
		TotalCalls:      l.totalCalls,
		TotalRejected:   l.totalRejected,
		LastReason:      l.lastReason,
	}
}

// window is a fixed window counter that refills when its period elapses.
type window struct {
	max    int
	period time.Duration
	tokens int
	start  time.Time
}

func newWindow(max int, period time.Duration, now time.Time) *window {
	return &window{max: max, period: period, tokens: max, start: now}
}

func (w *window) refill(now time.Time) {
	if now.Sub(w.start) >= w.period {
		w.tokens = w.max
		w.start = now
	}
}

func (w *window) take(now time.Time) bool {
	if w.max <= 0 {
		return true
	}
	w.refill(now)
	if w.tokens <= 0 {
		return false
	}
	w.tokens--
	return true
}

func (w *window) give() {
	if w.max > 0 && w.tokens < w.max {
		w.tokens++
	}
}

// remaining is -1 for a disabled window.
func (w *window) remaining(now time.Time) int {
	if w.max <= 0 {
		return -1
	}
	w.refill(now)
	return w.tokens
}
