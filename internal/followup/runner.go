package followup

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the runner starts a pass.
const DefaultInterval = 30 * time.Minute

// runTimeout bounds a single scheduled pass.
const runTimeout = 10 * time.Minute

// Runner calls the engine on a fixed interval.
type Runner struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	// Lifecycle
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewRunner creates a Runner.
func NewRunner(engine *Engine, interval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		panic("followup: logger is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		logger:   logger.Named("followup_runner"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the ticker loop. The first pass runs after one interval.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("follow-up runner already running")
	}
	r.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	r.logger.Info("starting follow-up runner", zap.Duration("interval", r.interval))
	r.wg.Add(1)
	go r.loop(runCtx)
	return nil
}

// Stop ends the loop. A pass in progress is cancelled if ctx expires first.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("follow-up runner stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn("follow-up runner stop timed out")
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	report, err := r.engine.Run(ctx, Options{})
	switch {
	case errors.Is(err, ErrRunInProgress):
		r.logger.Info("previous follow-up run still in progress, skipping tick")
	case err != nil:
		r.logger.Error("follow-up run failed", zap.Error(err))
	default:
		r.logger.Debug("follow-up run finished",
			zap.Int("candidates", report.Candidates),
			zap.Int("sent", report.Sent),
		)
	}
}
