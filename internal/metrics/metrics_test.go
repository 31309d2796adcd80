package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionStarted_RecordsOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.SessionStarted("qwen")
	if got := testutil.ToFloat64(m.InflightSessions); got != 1 {
		t.Errorf("expected 1 inflight session, got %v", got)
	}

	done("complete")
	if got := testutil.ToFloat64(m.InflightSessions); got != 0 {
		t.Errorf("expected 0 inflight sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsStarted.WithLabelValues("qwen")); got != 1 {
		t.Errorf("expected 1 started, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsCompleted.WithLabelValues("qwen")); got != 1 {
		t.Errorf("expected 1 completed, got %v", got)
	}

	m.SessionStarted("qwen")("error")
	if got := testutil.ToFloat64(m.SessionsFailed.WithLabelValues("qwen")); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 2 {
		t.Errorf("expected duration series for both statuses, got %d", got)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func TestMiddleware_CountsResponseCodes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/busy", func(c echo.Context) error { return echo.NewHTTPError(http.StatusConflict, "busy") })

	for _, path := range []string{"/ok", "/ok", "/busy"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.ResponseCodes.WithLabelValues("/ok", "200")); got != 2 {
		t.Errorf("expected 2 ok responses, got %v", got)
	}
	if got := testutil.ToFloat64(m.ResponseCodes.WithLabelValues("/busy", "409")); got != 1 {
		t.Errorf("expected 1 conflict response, got %v", got)
	}
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionRejected()
	m.Delta("qwen", true, 0)
	m.Delta("qwen", false, 0)
	m.Drifted("qwen", "cumulative")
	m.MediaSampled("video", 16)

	if got := testutil.ToFloat64(m.SessionsRejected); got != 1 {
		t.Errorf("expected 1 rejected, got %v", got)
	}
	if got := testutil.ToFloat64(m.Deltas.WithLabelValues("qwen")); got != 2 {
		t.Errorf("expected 2 deltas, got %v", got)
	}
	if got := testutil.ToFloat64(m.Drift.WithLabelValues("qwen", "cumulative")); got != 1 {
		t.Errorf("expected 1 drift, got %v", got)
	}
	if got := testutil.CollectAndCount(m.TimeToFirstDelta); got != 1 {
		t.Errorf("expected one first-delta series, got %d", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionStarted("qwen")("complete")
	m.SessionRejected()
	m.Delta("qwen", true, 0)
	m.Drifted("qwen", "incremental")
	m.MediaSampled("image", 1)
}
