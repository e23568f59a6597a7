package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

func newTestRetrier(attempts int) (*Retrier, *[]time.Duration) {
	r := New(Config{MaxAttempts: attempts, InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2, Jitter: 0}, zap.NewNop())
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func transient() error {
	return apperrors.TransportError("whatsapp.SendText", http.StatusServiceUnavailable, errors.New("unavailable"))
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	r, slept := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "send", func(context.Context) error {
		calls++
		if calls < 3 {
			return transient()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("slept = %v, want [1s 2s]", *slept)
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	r, _ := newTestRetrier(2)
	calls := 0
	err := r.Do(context.Background(), "send", func(context.Context) error {
		calls++
		return transient()
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if apperrors.GetCode(err) != apperrors.CodeTransport {
		t.Errorf("error = %v, want transport error", err)
	}
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client transport", apperrors.TransportError("op", http.StatusBadRequest, errors.New("bad number"))},
		{"validation", apperrors.ValidationFailed("empty body")},
		{"plain", errors.New("boom")},
		{"circuit open", apperrors.ErrCircuitOpen},
		{"canceled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRetrier(5)
			calls := 0
			_ = r.Do(context.Background(), "send", func(context.Context) error {
				calls++
				return tt.err
			})
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestDo_SingleAttemptIsBestEffort(t *testing.T) {
	r, slept := newTestRetrier(1)
	calls := 0
	_ = r.Do(context.Background(), "send", func(context.Context) error {
		calls++
		return transient()
	})
	if calls != 1 || len(*slept) != 0 {
		t.Errorf("calls = %d slept = %v, want one call and no sleep", calls, *slept)
	}
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	r, _ := newTestRetrier(5)
	r.sleep = func(context.Context, time.Duration) error { return context.Canceled }
	calls := 0
	err := r.Do(context.Background(), "send", func(context.Context) error {
		calls++
		return transient()
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if apperrors.GetCode(err) != apperrors.CodeTransport {
		t.Errorf("error = %v, want the operation's error", err)
	}
}

func TestDoGeneric_ReturnsResult(t *testing.T) {
	r, _ := newTestRetrier(3)
	calls := 0
	id, err := Do(context.Background(), r, "send", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", transient()
		}
		return "wamid.1", nil
	})
	if err != nil || id != "wamid.1" {
		t.Errorf("Do() = %q, %v", id, err)
	}
}

func TestDelay_CapsAtMax(t *testing.T) {
	r, _ := newTestRetrier(10)
	if d := r.Delay(5); d != 3*time.Second {
		t.Errorf("Delay(5) = %v, want 3s", d)
	}
}

func TestDelay_Jitter(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: 0.5}, zap.NewNop())
	r.jitter = func() float64 { return 1 }
	if d := r.Delay(1); d != 1500*time.Millisecond {
		t.Errorf("Delay(1) with max jitter = %v, want 1.5s", d)
	}
	r.jitter = func() float64 { return 0 }
	if d := r.Delay(1); d != 500*time.Millisecond {
		t.Errorf("Delay(1) with min jitter = %v, want 500ms", d)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{}, zap.NewNop())
	if r.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts() = %d, want 3", r.MaxAttempts())
	}
}
