// Package metrics provides Prometheus metrics collection for the application.
//
// Every Record method is safe to call on a nil *Metrics, so components can be
// constructed without metrics in tests and tools.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome/status label values for metrics.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Webhook outcomes.
const (
	WebhookAccepted         = "accepted"
	WebhookDuplicate        = "duplicate"
	WebhookMalformed        = "malformed"
	WebhookInvalidSignature = "invalid_signature"
)

// Send kinds label outbound WhatsApp traffic.
const (
	SendReply     = "reply"
	SendMediaAck  = "media_ack"
	SendPortfolio = "portfolio"
	SendFollowup  = "followup"
	SendOperator  = "operator_alert"
	SendStaff     = "staff"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingestion
	WebhooksReceivedTotal  *prometheus.CounterVec
	WebhookProcessDuration prometheus.Histogram
	InboundMessagesTotal   *prometheus.CounterVec

	// Conversation
	ClassificationsTotal *prometheus.CounterVec
	GenerationsTotal     *prometheus.CounterVec
	LeadsCreatedTotal    prometheus.Counter
	BookingsReadyTotal   prometheus.Counter

	// Delivery
	OutboundSendsTotal  *prometheus.CounterVec
	PendingDeliveries   prometheus.Gauge
	DebouncedAcksTotal  prometheus.Counter
	OperatorAlertsTotal *prometheus.CounterVec

	// Follow-ups
	FollowupsTotal     *prometheus.CounterVec
	FollowupRunSeconds prometheus.Histogram

	// External service metrics
	AICallsTotal        *prometheus.CounterVec
	AICallDuration      prometheus.Histogram
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Registry used for this metrics instance (nil means default registry)
	registry prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	m := newMetricsWithRegistry(prometheus.DefaultRegisterer)
	m.registry = prometheus.DefaultGatherer
	return m
}

// NewMetricsWithRegistry creates metrics using a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := newMetricsWithRegistry(reg)
	m.registry = reg
	return m
}

func newMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plumbot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plumbot_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		WebhooksReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_webhooks_received_total",
				Help: "Total number of WhatsApp webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		WebhookProcessDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plumbot_webhook_process_duration_seconds",
				Help:    "Time taken to acknowledge a webhook delivery",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		InboundMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_inbound_messages_total",
				Help: "Total number of customer messages by WhatsApp message type",
			},
			[]string{"type"},
		),

		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_classifications_total",
				Help: "Intent classifications by deciding tier and intent",
			},
			[]string{"tier", "intent"},
		),
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_generations_total",
				Help: "Generated replies by path (ai or template)",
			},
			[]string{"path"},
		),
		LeadsCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plumbot_leads_created_total",
				Help: "Total number of leads created from first contact",
			},
		),
		BookingsReadyTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plumbot_bookings_ready_total",
				Help: "Leads that completed intake and were escalated for booking",
			},
		),

		OutboundSendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_outbound_sends_total",
				Help: "Outbound WhatsApp sends by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PendingDeliveries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plumbot_pending_deliveries",
				Help: "Replies waiting out their randomized delay",
			},
		),
		DebouncedAcksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plumbot_debounced_acks_total",
				Help: "Media acknowledgments fired after a burst settled",
			},
		),
		OperatorAlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_operator_alerts_total",
				Help: "Operator media alerts by whether the file was stored",
			},
			[]string{"stored"},
		),

		FollowupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_followups_total",
				Help: "Automatic follow-up outcomes by stage",
			},
			[]string{"stage", "outcome"},
		),
		FollowupRunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plumbot_followup_run_duration_seconds",
				Help:    "Duration of follow-up cadence runs",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
		),

		AICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_ai_calls_total",
				Help: "Total number of language model calls by status",
			},
			[]string{"status"}, // "success", "failure", "circuit_open"
		),
		AICallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plumbot_ai_call_duration_seconds",
				Help:    "Duration of language model calls",
				Buckets: []float64{.25, .5, 1, 2, 5, 10, 15, 30},
			},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plumbot_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plumbot_circuit_breaker_trips_total",
				Help: "Total number of times a circuit breaker has opened",
			},
			[]string{"service"},
		),
	}
}

// Handler returns the Prometheus HTTP handler for scraping metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// normalizePath normalizes URL paths to prevent high cardinality labels.
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/ready", "/live", "/metrics", "/webhook", "/admin/log-level", "/api/followups/run":
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/api/leads/"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/leads/:phone" + rest[i:]
		}
		return "/api/leads/:phone"
	}
	if strings.HasPrefix(path, "/media/") {
		return "/media/*"
	}
	return "other"
}

// RecordWebhook records a webhook delivery.
func (m *Metrics) RecordWebhook(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhooksReceivedTotal.WithLabelValues(outcome).Inc()
	m.WebhookProcessDuration.Observe(duration.Seconds())
}

// RecordInboundMessage records an accepted customer message.
func (m *Metrics) RecordInboundMessage(msgType string) {
	if m == nil {
		return
	}
	m.InboundMessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordClassification records which tier decided an intent.
func (m *Metrics) RecordClassification(tier, intent string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(tier, intent).Inc()
}

// RecordGeneration records a generated reply.
func (m *Metrics) RecordGeneration(aiGenerated bool) {
	if m == nil {
		return
	}
	path := "template"
	if aiGenerated {
		path = "ai"
	}
	m.GenerationsTotal.WithLabelValues(path).Inc()
}

// RecordLeadCreated records a first contact.
func (m *Metrics) RecordLeadCreated() {
	if m == nil {
		return
	}
	m.LeadsCreatedTotal.Inc()
}

// RecordBookingReady records a completed intake.
func (m *Metrics) RecordBookingReady() {
	if m == nil {
		return
	}
	m.BookingsReadyTotal.Inc()
}

// RecordSend records an outbound send.
func (m *Metrics) RecordSend(kind string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.OutboundSendsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetPendingDeliveries sets the number of delayed replies in flight.
func (m *Metrics) SetPendingDeliveries(n int) {
	if m == nil {
		return
	}
	m.PendingDeliveries.Set(float64(n))
}

// RecordDebouncedAck records a settled media burst.
func (m *Metrics) RecordDebouncedAck() {
	if m == nil {
		return
	}
	m.DebouncedAcksTotal.Inc()
}

// RecordOperatorAlert records an operator media alert.
func (m *Metrics) RecordOperatorAlert(stored bool) {
	if m == nil {
		return
	}
	m.OperatorAlertsTotal.WithLabelValues(strconv.FormatBool(stored)).Inc()
}

// RecordFollowup records a follow-up outcome ("sent", "completed", "failed",
// "dry_run").
func (m *Metrics) RecordFollowup(stage, outcome string) {
	if m == nil {
		return
	}
	m.FollowupsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordFollowupRun records the duration of a cadence run.
func (m *Metrics) RecordFollowupRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.FollowupRunSeconds.Observe(duration.Seconds())
}

// RecordAICall records a language model call.
func (m *Metrics) RecordAICall(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := outcomeFailure
	if success {
		status = outcomeSuccess
	}
	m.AICallsTotal.WithLabelValues(status).Inc()
	m.AICallDuration.Observe(duration.Seconds())
}

// RecordAICircuitOpen records a call short-circuited by the breaker.
func (m *Metrics) RecordAICircuitOpen() {
	if m == nil {
		return
	}
	m.AICallsTotal.WithLabelValues("circuit_open").Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for a service and
// counts a trip when it opens. State: 0=closed, 1=open, 2=half-open
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
	if state == 1 {
		m.CircuitBreakerTrips.WithLabelValues(service).Inc()
	}
}
