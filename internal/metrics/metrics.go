// Package metrics defines prometheus metrics to expose
package metrics

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsStarted   *prometheus.CounterVec
	SessionsCompleted *prometheus.CounterVec
	SessionsFailed    *prometheus.CounterVec
	SessionsRejected  prometheus.Counter
	Deltas            *prometheus.CounterVec
	Drift             *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	TimeToFirstDelta  *prometheus.HistogramVec
	InflightSessions  prometheus.Gauge
	FramesSampled     *prometheus.HistogramVec
	ResponseCodes     *prometheus.CounterVec
}

// New registers the metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SessionsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_chat_sessions_started_total",
				Help: "Inference sessions admitted by the gate",
			},
			[]string{"model"},
		),
		SessionsCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_chat_sessions_completed_total",
				Help: "Inference sessions that ended with a complete answer",
			},
			[]string{"model"},
		),
		SessionsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_chat_sessions_failed_total",
				Help: "Inference sessions that ended with an error",
			},
			[]string{"model"},
		),
		SessionsRejected: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vision_chat_sessions_rejected_total",
				Help: "Submissions refused because a session was already in flight",
			},
		),
		Deltas: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_chat_deltas_total",
				Help: "Streamed text deltas received from the model",
			},
			[]string{"model"},
		),
		Drift: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_chat_reconciliation_drift_total",
				Help: "Completions whose final text differed from the reconciled stream",
			},
			[]string{"model", "policy"},
		),
		SessionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision_chat_session_duration_seconds",
				Help:    "Time from dispatch to terminal signal in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180},
			},
			[]string{"model", "status"},
		),
		TimeToFirstDelta: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision_chat_time_to_first_delta_seconds",
				Help:    "Time to first streamed delta in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"model"},
		),
		InflightSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vision_chat_inflight_sessions",
				Help: "Current inflight inference sessions",
			},
		),
		FramesSampled: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision_chat_frames_sampled",
				Help:    "Frames handed to the model per media upload",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"kind"},
		),
		ResponseCodes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision_chat_response_codes_total",
				Help: "HTTP responses by route and status code",
			},
			[]string{"path", "code"},
		),
	}
}

// SessionStarted marks a session as inflight and returns the func that records
// its outcome. All recording methods are no-ops on a nil *Metrics.
func (m *Metrics) SessionStarted(model string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	m.SessionsStarted.WithLabelValues(model).Inc()
	m.InflightSessions.Inc()
	start := time.Now()

	return func(status string) {
		m.InflightSessions.Dec()
		m.SessionDuration.WithLabelValues(model, status).Observe(time.Since(start).Seconds())
		switch status {
		case "complete":
			m.SessionsCompleted.WithLabelValues(model).Inc()
		case "error":
			m.SessionsFailed.WithLabelValues(model).Inc()
		}
	}
}

func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.SessionsRejected.Inc()
}

func (m *Metrics) Delta(model string, first bool, sinceStart time.Duration) {
	if m == nil {
		return
	}
	m.Deltas.WithLabelValues(model).Inc()
	if first {
		m.TimeToFirstDelta.WithLabelValues(model).Observe(sinceStart.Seconds())
	}
}

func (m *Metrics) Drifted(model, policy string) {
	if m == nil {
		return
	}
	m.Drift.WithLabelValues(model, policy).Inc()
}

func (m *Metrics) MediaSampled(kind string, frames int) {
	if m == nil {
		return
	}
	m.FramesSampled.WithLabelValues(kind).Observe(float64(frames))
}

func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			code := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				code = he.Code
			}
			m.ResponseCodes.WithLabelValues(c.Path(), fmt.Sprintf("%d", code)).Inc()
			return err
		}
	}
}
