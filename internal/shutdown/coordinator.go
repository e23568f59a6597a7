// Package shutdown stops the bot in a fixed order: stop taking webhooks,
// stop the workers that create new sends, push out what is queued, then
// close the stores.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Service is something that must be stopped on exit.
type Service interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc struct {
	ServiceName string
	ShutdownFn  func(ctx context.Context) error
}

func (s ServiceFunc) Name() string                       { return s.ServiceName }
func (s ServiceFunc) Shutdown(ctx context.Context) error { return s.ShutdownFn(ctx) }

// Phase orders shutdown. Services in one phase stop concurrently; phases
// run one after another.
type Phase int

const (
	// PhaseIngress stops the HTTP server so no new webhooks arrive.
	PhaseIngress Phase = iota
	// PhaseWorkers stops producers of sends: the dispatcher and the
	// follow-up runner.
	PhaseWorkers
	// PhaseDelivery flushes pending media acks and queued replies.
	PhaseDelivery
	// PhaseCleanup closes database, cache and storage clients.
	PhaseCleanup
)

var phases = []Phase{PhaseIngress, PhaseWorkers, PhaseDelivery, PhaseCleanup}

func (p Phase) String() string {
	switch p {
	case PhaseIngress:
		return "ingress"
	case PhaseWorkers:
		return "workers"
	case PhaseDelivery:
		return "delivery"
	case PhaseCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// DefaultTimeout bounds the whole sequence.
const DefaultTimeout = 30 * time.Second

// Coordinator runs the shutdown sequence once.
type Coordinator struct {
	mu       sync.Mutex
	services map[Phase][]Service
	timeout  time.Duration
	logger   *zap.Logger

	started    chan struct{}
	once       sync.Once
	done       chan struct{}
	err        error
	inProgress atomic.Bool
}

// NewCoordinator creates a Coordinator. A non-positive timeout uses
// DefaultTimeout.
func NewCoordinator(timeout time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		panic("logger is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		services: make(map[Phase][]Service),
		timeout:  timeout,
		logger:   logger.Named("shutdown"),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds svc to phase.
func (c *Coordinator) Register(phase Phase, svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[phase] = append(c.services[phase], svc)
}

// RegisterFunc registers fn under name.
func (c *Coordinator) RegisterFunc(phase Phase, name string, fn func(ctx context.Context) error) {
	c.Register(phase, ServiceFunc{ServiceName: name, ShutdownFn: fn})
}

// Shutdown runs every phase and returns the joined service errors. The
// sequence gets its own timeout so a cancelled caller context does not cut
// delivery short; ctx only bounds how long the caller waits. Later calls
// wait for the first one.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.inProgress.Store(true)
		close(c.started)
		go c.run()
	})

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started is closed when shutdown begins.
func (c *Coordinator) Started() <-chan struct{} {
	return c.started
}

// IsReady reports false once shutdown has begun, so load balancers stop
// routing to the instance while it drains.
func (c *Coordinator) IsReady() bool {
	return !c.inProgress.Load()
}

func (c *Coordinator) run() {
	defer close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.logger.Info("starting graceful shutdown", zap.Duration("timeout", c.timeout))

	var errs []error
	for _, phase := range phases {
		c.mu.Lock()
		services := c.services[phase]
		c.mu.Unlock()
		if len(services) == 0 {
			continue
		}

		c.logger.Info("shutdown phase", zap.Stringer("phase", phase), zap.Int("services", len(services)))
		errs = append(errs, c.runPhase(ctx, phase, services)...)

		if ctx.Err() != nil {
			c.logger.Error("shutdown timeout exceeded", zap.Stringer("phase", phase))
			errs = append(errs, fmt.Errorf("phase %s: %w", phase, ctx.Err()))
			break
		}
	}

	c.err = errors.Join(errs...)
	if c.err != nil {
		c.logger.Error("shutdown completed with errors", zap.Int("error_count", len(errs)))
		return
	}
	c.logger.Info("graceful shutdown complete")
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, services []Service) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := svc.Shutdown(ctx)
			if err != nil {
				c.logger.Error("service shutdown failed",
					zap.String("service", svc.Name()),
					zap.Stringer("phase", phase),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
				mu.Unlock()
				return
			}
			c.logger.Debug("service stopped",
				zap.String("service", svc.Name()),
				zap.Duration("duration", time.Since(start)),
			)
		}()
	}
	wg.Wait()
	return errs
}
