package conversation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/sanitize"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

// MessageHandler processes one inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg whatsapp.InboundMessage) error
}

// DefaultHandleTimeout bounds the background processing of one message.
const DefaultHandleTimeout = 2 * time.Minute

// Dispatcher runs message handling off the webhook request so the provider
// gets its acknowledgment immediately.
type Dispatcher struct {
	handler MessageHandler
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(handler MessageHandler, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		panic("conversation: logger is required")
	}
	if timeout <= 0 {
		timeout = DefaultHandleTimeout
	}
	return &Dispatcher{
		handler: handler,
		timeout: timeout,
		logger:  logger.Named("dispatcher"),
	}
}

// Dispatch handles msg on a new goroutine. Panics and errors are logged and
// never reach the caller.
func (d *Dispatcher) Dispatch(msg whatsapp.InboundMessage) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Warn("dispatcher stopped, dropping message",
			zap.String("message_id", msg.ID),
			zap.String("from", sanitize.Phone(msg.From)),
		)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic handling message",
					zap.Any("panic", r),
					zap.String("message_id", msg.ID),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.handler.Handle(ctx, msg); err != nil {
			d.logger.Error("failed to handle message",
				zap.String("message_id", msg.ID),
				zap.String("type", string(msg.Type)),
				zap.String("from", sanitize.Phone(msg.From)),
				zap.Error(err),
			)
			return
		}
		d.logger.Debug("message handled",
			zap.String("message_id", msg.ID),
			zap.Duration("duration", time.Since(start)),
		)
	}()
}

// Stop refuses new messages and waits for in-flight handling until ctx is
// done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
