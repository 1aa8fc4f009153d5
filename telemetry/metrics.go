// Package telemetry provides Prometheus metrics, OpenTelemetry tracing
// setup, and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters, labeled by platform where that makes sense.
	MessagesInbound     *prometheus.CounterVec
	MessagesSent        *prometheus.CounterVec
	SendsRateLimited    *prometheus.CounterVec
	ModerationActions   *prometheus.CounterVec
	ReconnectAttempts   *prometheus.CounterVec
	ReconnectsExhausted *prometheus.CounterVec
	GenerationFailures  prometheus.Counter
	DedupeHits          prometheus.Counter
	FactsPosted         *prometheus.CounterVec

	// Histograms (seconds)
	DispatchDuration   prometheus.Observer
	GenerationDuration prometheus.Observer

	// Gauges
	ActiveSessions  prometheus.Gauge
	ConnectorsReady *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesInbound = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_messages_inbound_total", Help: "Inbound chat messages received"}, []string{"platform"})
		MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_messages_sent_total", Help: "Outbound chat messages sent"}, []string{"platform"})
		SendsRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_sends_rate_limited_total", Help: "Sends rejected by the rate limiter"}, []string{"platform"})
		ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_moderation_actions_total", Help: "Moderation actions executed"}, []string{"platform", "action"})
		ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_reconnect_attempts_total", Help: "Connector reconnect attempts scheduled"}, []string{"platform"})
		ReconnectsExhausted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_reconnects_exhausted_total", Help: "Connectors that ran out of reconnect attempts"}, []string{"platform"})
		GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_generation_failures_total", Help: "Content generation failures"})
		DedupeHits = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_dedupe_hits_total", Help: "Generated content rejected as duplicate"})
		FactsPosted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_facts_posted_total", Help: "Generated content posts"}, []string{"platform"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_dispatch_duration_seconds", Help: "Inbound message dispatch duration", Buckets: prometheus.DefBuckets})
		GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_generation_duration_seconds", Help: "Content generation call duration", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_sessions", Help: "Currently running bot sessions"})
		ConnectorsReady = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "bot_connectors_ready", Help: "Connectors in Ready state"}, []string{"platform"})
	})
}

// TimeFunc measures fn and records in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
