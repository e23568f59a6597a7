package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/circuitbreaker"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error {
	return m.err
}

type mockBreaker struct {
	state circuitbreaker.State
}

func (m *mockBreaker) BreakerState() circuitbreaker.State {
	return m.state
}

func TestHealthHandler_HandleLiveness(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{Logger: zap.NewNop()})

	rr := httptest.NewRecorder()
	h.HandleLiveness(rr, httptest.NewRequest(http.MethodGet, "/live", http.NoBody))

	if rr.Code != http.StatusOK || rr.Body.String() != "alive" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestHealthHandler_HandleReadiness(t *testing.T) {
	tests := []struct {
		name       string
		database   Pinger
		wantStatus int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", &mockPinger{}, http.StatusOK},
		{"database down", &mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(HealthHandlerConfig{Database: tt.database, Logger: zap.NewNop()})
			rr := httptest.NewRecorder()
			h.HandleReadiness(rr, httptest.NewRequest(http.MethodGet, "/ready", http.NoBody))
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

type gate bool

func (g gate) IsReady() bool { return bool(g) }

func TestHealthHandler_ReadinessGate(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{Database: &mockPinger{}, Gate: gate(false), Logger: zap.NewNop()})
	rr := httptest.NewRecorder()
	h.HandleReadiness(rr, httptest.NewRequest(http.MethodGet, "/ready", http.NoBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while shutting down", rr.Code)
	}
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		cfg        HealthHandlerConfig
		wantStatus int
		wantBody   string
		wantCheck  map[string]string
	}{
		{
			name: "all healthy",
			cfg: HealthHandlerConfig{
				Database: &mockPinger{},
				Cache:    &mockPinger{},
				AI:       &mockBreaker{state: circuitbreaker.StateClosed},
				WhatsApp: &mockBreaker{state: circuitbreaker.StateClosed},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantCheck:  map[string]string{"database": "healthy", "dedupe": "healthy", "ai_service": "healthy", "whatsapp": "healthy"},
		},
		{
			name:       "database down",
			cfg:        HealthHandlerConfig{Database: &mockPinger{err: errors.New("down")}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
			wantCheck:  map[string]string{"database": "unhealthy"},
		},
		{
			name:       "dedupe down",
			cfg:        HealthHandlerConfig{Database: &mockPinger{}, Cache: &mockPinger{err: errors.New("down")}},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
			wantCheck:  map[string]string{"dedupe": "degraded"},
		},
		{
			name:       "ai circuit open",
			cfg:        HealthHandlerConfig{AI: &mockBreaker{state: circuitbreaker.StateOpen}},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
			wantCheck:  map[string]string{"ai_service": "degraded"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = zap.NewNop()
			tt.cfg.Version = "test"
			h := NewHealthHandler(tt.cfg)

			rr := httptest.NewRecorder()
			h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantBody || resp.Version != "test" {
				t.Errorf("status = %q version = %q", resp.Status, resp.Version)
			}
			for name, want := range tt.wantCheck {
				if got := resp.Checks[name].Status; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestNewHealthHandler_PanicsWithoutLogger(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewHealthHandler(HealthHandlerConfig{})
}
