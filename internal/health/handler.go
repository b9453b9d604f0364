package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/avelar-io/ttskit/internal/engine"
	"github.com/avelar-io/ttskit/internal/gateway"
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
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type EngineStats struct {
	State               string `json:"state"`
	Mode                string `json:"mode"`
	QueueSize           int    `json:"queue_size"`
	RoutingTarget       string `json:"routing_target"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastGood            string `json:"last_good,omitempty"`
}

type Stats struct {
	Engine              EngineStats  `json:"engine"`
	PlaybackSubscribers int          `json:"playback_subscribers"`
	Runtime             RuntimeStats `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type Handler struct {
	redis     *redis.Client
	engine    *engine.Engine
	bridge    *gateway.Bridge
	version   string
	startTime time.Time
}

func NewHandler(redisClient *redis.Client, eng *engine.Engine, bridge *gateway.Bridge, version string) *Handler {
	return &Handler{
		redis:     redisClient,
		engine:    eng,
		bridge:    bridge,
		version:   version,
		startTime: time.Now(),
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

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"cache", h.checkRedis},
		{"engine", h.checkEngine},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	overall := computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	healthState := h.engine.Health()
	engineStats := EngineStats{
		State:               h.engine.State().String(),
		Mode:                h.engine.Mode().String(),
		QueueSize:           h.engine.QueueSize(),
		RoutingTarget:       healthState.Target.String(),
		ConsecutiveFailures: healthState.ConsecutiveFailures,
	}
	if !healthState.LastGood.IsZero() {
		engineStats.LastGood = healthState.LastGood.UTC().Format(time.RFC3339)
	}

	resp := HealthResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Engine:              engineStats,
			PlaybackSubscribers: h.bridge.SubscriberCount(),
			Runtime: RuntimeStats{
				Goroutines:    runtime.NumGoroutine(),
				MemoryAllocMB: memStats.Alloc / 1024 / 1024,
				MemorySysMB:   memStats.Sys / 1024 / 1024,
				NumGC:         memStats.NumGC,
			},
		},
		Components: components,
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	if h.redis == nil {
		return ComponentStatus{Status: StatusDegraded, Error: "cache not configured"}
	}
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}
	return ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
}

func (h *Handler) checkEngine(_ context.Context) ComponentStatus {
	state := h.engine.State()
	if state != engine.StateInitialized {
		return ComponentStatus{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("engine is %s", state),
		}
	}
	return ComponentStatus{Status: StatusHealthy}
}

// computeOverallStatus is unhealthy only when the engine itself is down; a
// missing or failing cache degrades service but requests still work.
func computeOverallStatus(components map[string]ComponentStatus) Status {
	if c, ok := components["engine"]; ok && c.Status == StatusUnhealthy {
		return StatusUnhealthy
	}
	for _, c := range components {
		if c.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
