package health

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type ConversationStats struct {
	Live int `json:"live"`
	Busy int `json:"busy"`
}

type Stats struct {
	Conversations ConversationStats `json:"conversations"`
	Runtime       RuntimeStats      `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	Model         string                     `json:"model"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type ModelProbe interface {
	Name() string
	IsAvailable(ctx context.Context) bool
}

type ConversationCounter interface {
	Count() int
	BusyCount() int
}

// Handler reports liveness and readiness. The model backend is the only
// critical component; the database and redis are optional and only checked
// when configured.
type Handler struct {
	db            *gorm.DB
	redis         *redis.Client
	model         ModelProbe
	conversations ConversationCounter
	version       string
	startTime     time.Time
}

func NewHandler(
	db *gorm.DB,
	redis *redis.Client,
	model ModelProbe,
	conversations ConversationCounter,
	version string,
) *Handler {
	return &Handler{
		db:            db,
		redis:         redis,
		model:         model,
		conversations: conversations,
		version:       version,
		startTime:     time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type check struct {
	name string
	fn   func(context.Context) ComponentStatus
}

func (h *Handler) checks() []check {
	checks := []check{{"model", h.checkModel}}
	if h.db != nil {
		checks = append(checks, check{"database", h.checkDatabase})
	}
	if h.redis != nil {
		checks = append(checks, check{"redis", h.checkRedis})
	}
	return checks
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	checks := h.checks()
	components := make(map[string]ComponentStatus, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(len(checks))
	for _, chk := range checks {
		go func(chk check) {
			defer wg.Done()
			status := chk.fn(ctx)
			mu.Lock()
			components[chk.name] = status
			mu.Unlock()
		}(chk)
	}
	wg.Wait()

	overallStatus := computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Runtime: RuntimeStats{
				Goroutines:         runtime.NumGoroutine(),
				MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
				MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
				MemorySysMB:        memStats.Sys / 1024 / 1024,
				NumGC:              memStats.NumGC,
			},
		},
		Components: components,
	}
	if h.model != nil {
		resp.Model = h.model.Name()
	}
	if h.conversations != nil {
		resp.Stats.Conversations = ConversationStats{
			Live: h.conversations.Count(),
			Busy: h.conversations.BusyCount(),
		}
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, resp)
}

func unhealthy(start time.Time, msg string) ComponentStatus {
	return ComponentStatus{
		Status:    StatusUnhealthy,
		LatencyMs: time.Since(start).Milliseconds(),
		Error:     msg,
	}
}

func (h *Handler) checkModel(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.model == nil {
		return unhealthy(start, "model not configured")
	}
	if !h.model.IsAvailable(ctx) {
		return unhealthy(start, "model backend unreachable")
	}
	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()

	sqlDB, err := h.db.DB()
	if err != nil {
		return unhealthy(start, "failed to get underlying db")
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return unhealthy(start, "ping failed")
	}

	return ComponentStatus{
		Status:    evaluateDBStats(sqlDB.Stats()),
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func evaluateDBStats(stats sql.DBStats) Status {
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return unhealthy(start, "ping failed")
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func computeOverallStatus(components map[string]ComponentStatus) Status {
	if status, ok := components["model"]; ok && status.Status == StatusUnhealthy {
		return StatusUnhealthy
	}

	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
