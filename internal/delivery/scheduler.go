// Package delivery paces outbound messages. Replies are sent after a random
// human-like delay on their own goroutine, and bursts of media uploads from
// one sender are collapsed into a single acknowledgment.
package delivery

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/sanitize"
)

// TextSender sends a WhatsApp text message.
type TextSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// Task is deferred outbound work.
type Task func(ctx context.Context) error

// Config holds scheduler settings.
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// SendTimeout bounds a single task once its delay has elapsed.
	SendTimeout time.Duration
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		MinDelay:    time.Minute,
		MaxDelay:    5 * time.Minute,
		SendTimeout: time.Minute,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithDelayFunc replaces the random delay. Tests use it to send at once.
func WithDelayFunc(f func() time.Duration) Option {
	return func(s *Scheduler) { s.delay = f }
}

type scheduled struct {
	kind   string
	to     string
	leadID uuid.UUID
	fn     Task
	timer  *time.Timer
	once   sync.Once
}

// Scheduler runs tasks after a delay. The caller never waits for the delay
// or for the send. Delays are not cancelable; Stop sends what is still
// queued instead of dropping it.
type Scheduler struct {
	sender      TextSender
	minDelay    time.Duration
	maxDelay    time.Duration
	sendTimeout time.Duration
	delay       func() time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	queued  map[*scheduled]struct{}
	stopped bool
	wg      sync.WaitGroup
	pending atomic.Int64
}

// NewScheduler creates a Scheduler that sends text through sender.
func NewScheduler(sender TextSender, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		panic("delivery: logger is required")
	}
	def := DefaultConfig()
	if cfg.MaxDelay <= 0 {
		cfg.MinDelay, cfg.MaxDelay = def.MinDelay, def.MaxDelay
	}
	if cfg.MinDelay < 0 || cfg.MinDelay > cfg.MaxDelay {
		cfg.MinDelay = cfg.MaxDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	s := &Scheduler{
		sender:      sender,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		sendTimeout: cfg.SendTimeout,
		logger:      logger.Named("delivery"),
		queued:      make(map[*scheduled]struct{}),
	}
	s.delay = s.randomDelay
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomDelay is uniform in [minDelay, maxDelay].
func (s *Scheduler) randomDelay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(rand.Int64N(int64(span)+1))
}

// ScheduleSend sends body to the recipient after the delay. kind is the
// metrics label for the send.
func (s *Scheduler) ScheduleSend(kind, to, body string, leadID uuid.UUID) {
	s.Schedule(kind, to, leadID, func(ctx context.Context) error {
		_, err := s.sender.SendText(ctx, to, body)
		return err
	})
}

// Schedule runs fn after the delay. A failed task is logged and dropped.
func (s *Scheduler) Schedule(kind, to string, leadID uuid.UUID, fn Task) {
	t := &scheduled{kind: kind, to: to, leadID: leadID, fn: fn}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("scheduler stopped, dropping message",
			zap.String("kind", kind),
			zap.String("to", sanitize.Phone(to)),
		)
		return
	}
	s.queued[t] = struct{}{}
	s.wg.Add(1)
	s.metrics.SetPendingDeliveries(int(s.pending.Add(1)))
	delay := s.delay()
	t.timer = time.AfterFunc(delay, func() { s.run(t) })
	s.mu.Unlock()

	s.logger.Debug("message scheduled",
		zap.String("kind", kind),
		zap.String("to", sanitize.Phone(to)),
		zap.Duration("delay", delay),
	)
}

func (s *Scheduler) run(t *scheduled) {
	t.once.Do(func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in delivery task",
					zap.Any("panic", r),
					zap.String("kind", t.kind),
				)
			}
		}()

		s.mu.Lock()
		delete(s.queued, t)
		s.mu.Unlock()
		s.metrics.SetPendingDeliveries(int(s.pending.Add(-1)))

		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()

		err := t.fn(ctx)
		s.metrics.RecordSend(t.kind, err)
		if err != nil {
			s.logger.Error("delivery failed, message lost",
				zap.String("kind", t.kind),
				zap.String("to", sanitize.Phone(t.to)),
				zap.String("lead_id", t.leadID.String()),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("message delivered",
			zap.String("kind", t.kind),
			zap.String("to", sanitize.Phone(t.to)),
		)
	})
}

// Pending returns the number of tasks waiting for their delay.
func (s *Scheduler) Pending() int {
	return int(s.pending.Load())
}

// Stop refuses new tasks, sends everything still waiting without further
// delay and waits for in-flight sends until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	flush := make([]*scheduled, 0, len(s.queued))
	for t := range s.queued {
		flush = append(flush, t)
	}
	s.mu.Unlock()

	if len(flush) > 0 {
		s.logger.Info("flushing queued messages", zap.Int("count", len(flush)))
	}
	for _, t := range flush {
		if t.timer.Stop() {
			go s.run(t)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
