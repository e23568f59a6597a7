package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/clock"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

var errBoom = errors.New("boom")

func newTestBreaker(mock *clock.Mock, transitions *[]string) *CircuitBreaker {
	return New("test", Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenTimeout:         time.Minute,
		HalfOpenMaxRequests: 2,
		Clock:               mock,
		OnStateChange: func(_ string, from, to State) {
			if transitions != nil {
				*transitions = append(*transitions, from.String()+"->"+to.String())
			}
		},
	}, zap.NewNop())
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	var transitions []string
	cb := newTestBreaker(mock, &transitions)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d error = %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker should reject without calling fn, err = %v", err)
	}
	if apperrors.GetCode(err) != apperrors.CodeCircuitOpen {
		t.Errorf("GetCode() = %s", apperrors.GetCode(err))
	}
	if cb.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", cb.Rejected())
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	var transitions []string
	cb := newTestBreaker(mock, &transitions)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	mock.Advance(time.Minute)

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("half-open probe error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %s, want half-open after one success", cb.State())
	}
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("second probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := newTestBreaker(mock, nil)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	mock.Advance(time.Minute)
	_ = cb.Execute(ctx, fail)

	if cb.State() != StateOpen {
		t.Errorf("State() = %s, want open", cb.State())
	}
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("reopened breaker should reject, err = %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	cb := newTestBreaker(clock.NewMock(time.Now()), nil)

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_IgnoresCallerErrors(t *testing.T) {
	ctx := context.Background()
	cb := newTestBreaker(clock.NewMock(time.Now()), nil)

	callerErrs := []error{
		context.Canceled,
		apperrors.ValidationFailed("bad recipient"),
		apperrors.TransportError("whatsapp.SendText", http.StatusBadRequest, errBoom),
	}
	for i := 0; i < 5; i++ {
		for _, e := range callerErrs {
			e := e
			_ = cb.Execute(ctx, func(context.Context) error { return e })
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("caller-side errors opened the breaker")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	ctx := context.Background()
	cb := newTestBreaker(clock.NewMock(time.Now()), nil)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed", cb.State())
	}
}

func TestCountsAsFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errBoom, true},
		{"server transport", apperrors.TransportError("op", http.StatusBadGateway, errBoom), true},
		{"client transport", apperrors.TransportError("op", http.StatusBadRequest, errBoom), false},
		{"ai", apperrors.AIError("op", errBoom), true},
		{"not found", apperrors.NotFound("lead"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountsAsFailure(tt.err); got != tt.expected {
				t.Errorf("CountsAsFailure(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if StateHalfOpen.String() != "half-open" || State(42).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}

func TestNew_PanicsWithoutLogger(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New("x", Config{}, nil)
}
