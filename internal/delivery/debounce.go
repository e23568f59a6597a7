package delivery

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/sanitize"
)

// DefaultDebounceWindow is the quiet period before a media burst is
// acknowledged.
const DefaultDebounceWindow = 8 * time.Second

// FireFunc receives a settled burst: the sender, the type of the most
// recent upload and how many uploads the burst held.
type FireFunc func(sender, lastType string, count int)

// slot is one sender's pending countdown. gen identifies the current timer
// so a superseded timer that fires late does nothing.
type slot struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	lastType string
	count    int
	dead     bool
}

// MediaDebouncer keeps at most one countdown per sender. Each Touch resets
// the sender's countdown; FireFunc runs once the sender has been quiet for
// the whole window. Senders never contend on a shared lock.
type MediaDebouncer struct {
	window  time.Duration
	fire    FireFunc
	slots   sync.Map // sender -> *slot
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewMediaDebouncer creates a debouncer. A zero window uses the default.
func NewMediaDebouncer(window time.Duration, fire FireFunc, logger *zap.Logger, m *metrics.Metrics) *MediaDebouncer {
	if logger == nil {
		panic("delivery: logger is required")
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &MediaDebouncer{
		window:  window,
		fire:    fire,
		logger:  logger.Named("debounce"),
		metrics: m,
	}
}

// Touch records an upload of mediaType from sender and restarts its
// countdown.
func (d *MediaDebouncer) Touch(sender, mediaType string) {
	for {
		v, _ := d.slots.LoadOrStore(sender, &slot{})
		s := v.(*slot)

		s.mu.Lock()
		if s.dead {
			// Fired between our load and lock; start a fresh slot.
			s.mu.Unlock()
			continue
		}
		if s.timer != nil {
			s.timer.Stop()
		}
		s.gen++
		gen := s.gen
		s.lastType = mediaType
		s.count++
		s.timer = time.AfterFunc(d.window, func() { d.expire(sender, s, gen) })
		count := s.count
		s.mu.Unlock()

		d.logger.Debug("media countdown reset",
			zap.String("sender", sanitize.Phone(sender)),
			zap.String("media_type", mediaType),
			zap.Int("burst_count", count),
		)
		return
	}
}

func (d *MediaDebouncer) expire(sender string, s *slot, gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.timer = nil
	lastType, count := s.lastType, s.count
	d.slots.CompareAndDelete(sender, s)
	s.mu.Unlock()

	d.metrics.RecordDebouncedAck()
	d.logger.Debug("media burst settled",
		zap.String("sender", sanitize.Phone(sender)),
		zap.String("last_type", lastType),
		zap.Int("burst_count", count),
	)
	d.fire(sender, lastType, count)
}

// Pending reports whether sender has a running countdown.
func (d *MediaDebouncer) Pending(sender string) bool {
	_, ok := d.slots.Load(sender)
	return ok
}

// Flush fires every running countdown now. It is called on shutdown before
// the scheduler stops.
func (d *MediaDebouncer) Flush() {
	d.slots.Range(func(key, value any) bool {
		s := value.(*slot)
		s.mu.Lock()
		stopped := s.timer != nil && s.timer.Stop()
		gen := s.gen
		s.mu.Unlock()
		if stopped {
			d.expire(key.(string), s, gen)
		}
		return true
	})
}
