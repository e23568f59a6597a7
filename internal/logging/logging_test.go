package logging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"  info  ", zapcore.InfoLevel, false},
		{"invalid", zapcore.InfoLevel, true},
		{"", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && level != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("empty level defaults to info", func(t *testing.T) {
		logger, err := New(Config{})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if logger.GetLevel() != "info" {
			t.Errorf("expected level = info, got %s", logger.GetLevel())
		}
	})

	t.Run("invalid level returns error", func(t *testing.T) {
		if _, err := New(Config{Level: "loud"}); err == nil {
			t.Error("expected error for invalid level")
		}
	})
}

func TestLogger_SetLevelSharedWithChildren(t *testing.T) {
	logger, _ := New(Config{Level: "info", Environment: "production"})
	child := logger.Named("webhook").With(Phone("263771234567"))

	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if child.GetLevel() != "debug" {
		t.Errorf("child level = %s, want debug", child.GetLevel())
	}
	if err := logger.SetLevel("verbose"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestLogger_ServeHTTP(t *testing.T) {
	logger, _ := New(Config{Level: "info"})

	tests := []struct {
		name      string
		method    string
		target    string
		body      string
		wantCode  int
		wantLevel string
	}{
		{"get", http.MethodGet, "/admin/log-level", "", http.StatusOK, "info"},
		{"put query", http.MethodPut, "/admin/log-level?level=warn", "", http.StatusOK, "warn"},
		{"put body", http.MethodPut, "/admin/log-level", `{"level":"debug"}`, http.StatusOK, "debug"},
		{"missing level", http.MethodPut, "/admin/log-level", "", http.StatusBadRequest, "debug"},
		{"invalid level", http.MethodPut, "/admin/log-level?level=nope", "", http.StatusBadRequest, "debug"},
		{"method not allowed", http.MethodDelete, "/admin/log-level", "", http.StatusMethodNotAllowed, "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			logger.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("level = %s, want %s", logger.GetLevel(), tt.wantLevel)
			}
		})
	}
}

func TestFieldHelpers(t *testing.T) {
	if f := Phone("263771234567"); f.String != "263*******67" {
		t.Errorf("Phone field = %q", f.String)
	}
	id := uuid.New()
	if f := LeadID(id); f.String != id.String() {
		t.Errorf("LeadID field = %q", f.String)
	}
	if f := Body("my number is 263771234567"); strings.Contains(f.String, "1234") {
		t.Errorf("Body field leaked phone: %q", f.String)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded")
	if l.Zap() == nil {
		t.Error("expected non-nil zap logger")
	}
}
