package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/middleware"
	"github.com/jkindrix/plumbot/internal/sanitize"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

// Dispatcher hands inbound messages to background processing.
type Dispatcher interface {
	Dispatch(msg whatsapp.InboundMessage)
}

// Claimer records provider message ids so redeliveries are skipped.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
}

// WebhookHandler receives WhatsApp Cloud API webhooks.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	dedupe      Claimer
	dispatcher  Dispatcher
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// WebhookHandlerConfig holds configuration for WebhookHandler.
type WebhookHandlerConfig struct {
	VerifyToken string
	// AppSecret enables signature checks when set.
	AppSecret  string
	Dedupe     Claimer
	Dispatcher Dispatcher
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(cfg WebhookHandlerConfig) *WebhookHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &WebhookHandler{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		dedupe:      cfg.Dedupe,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger.Named("webhook"),
		metrics:     cfg.Metrics,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.HandleVerify)
	r.With(middleware.BodySizeLimiter(middleware.MaxWebhookBodySize)).Post("/webhook", h.HandleWebhook)
}

// HandleVerify answers the subscription handshake.
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	challenge, err := whatsapp.VerifyChallenge(r.URL.Query(), h.verifyToken)
	if err != nil {
		h.logger.Warn("webhook verification failed", zap.String("mode", r.URL.Query().Get("hub.mode")))
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// HandleWebhook acknowledges a delivery and dispatches its messages. Only
// a bad signature is refused; anything else gets a 200 so the provider
// does not retry a payload that will never parse.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.LoggerWithCorrelation(r.Context(), h.logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.RecordWebhook(metrics.WebhookMalformed, time.Since(start))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warn("failed to read webhook body", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" {
		if err := whatsapp.VerifySignature(h.appSecret, body, r.Header.Get(whatsapp.SignatureHeader)); err != nil {
			logger.Warn("rejected webhook with invalid signature", zap.String("remote_addr", r.RemoteAddr))
			h.metrics.RecordWebhook(metrics.WebhookInvalidSignature, time.Since(start))
			writeError(w, r, h.logger, err)
			return
		}
	}

	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		logger.Warn("ignoring malformed webhook", zap.Error(err), zap.Int("bytes", len(body)))
		h.metrics.RecordWebhook(metrics.WebhookMalformed, time.Since(start))
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	msgs := payload.InboundMessages()
	dispatched := 0
	for _, msg := range msgs {
		if !h.claim(r.Context(), logger, msg) {
			continue
		}
		h.dispatcher.Dispatch(msg)
		dispatched++
	}

	outcome := metrics.WebhookAccepted
	if len(msgs) > 0 && dispatched == 0 {
		outcome = metrics.WebhookDuplicate
	}
	logger.Debug("webhook handled", zap.Int("messages", len(msgs)), zap.Int("dispatched", dispatched))
	h.metrics.RecordWebhook(outcome, time.Since(start))
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// claim reports whether msg is new. A dedupe store failure lets the message
// through: a rare double reply beats a lost lead.
func (h *WebhookHandler) claim(ctx context.Context, logger *zap.Logger, msg whatsapp.InboundMessage) bool {
	if h.dedupe == nil {
		return true
	}
	fresh, err := h.dedupe.Claim(ctx, msg.ID)
	if err != nil {
		logger.Warn("dedupe store unavailable, processing message anyway",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return true
	}
	if !fresh {
		logger.Info("skipping redelivered message",
			zap.String("message_id", msg.ID),
			zap.String("from", sanitize.Phone(msg.From)),
		)
	}
	return fresh
}
