package handlers

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"chatload/metrics"
	"chatload/middleware"
	"chatload/models"
	"chatload/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is implemented by services.Scheduler.
type StatusProvider interface {
	Status(maxUsers int) services.Status
}

// RunInfo identifies the run being served.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	TargetURL string    `json:"target_url"`
	StartedAt time.Time `json:"started_at"`
}

type MonitorHandlers struct {
	status  StatusProvider
	sink    *metrics.Sink
	runRepo *models.RunRepository
	info    RunInfo
	logger  *models.LoadLogger
}

// NewMonitorHandlers builds the monitor API. runRepo may be nil when no
// results store is configured.
func NewMonitorHandlers(status StatusProvider, sink *metrics.Sink, runRepo *models.RunRepository, info RunInfo, logger *models.LoadLogger) *MonitorHandlers {
	return &MonitorHandlers{
		status:  status,
		sink:    sink,
		runRepo: runRepo,
		info:    info,
		logger:  logger,
	}
}

func (h *MonitorHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"time":       time.Now().UTC(),
		"goroutines": runtime.NumGoroutine(),
	})
}

// GetStatus returns scheduler state and the current metric snapshot.
// ?users=N adds per-user detail for up to N users.
func (h *MonitorHandlers) GetStatus(c *gin.Context) {
	maxUsers := 0
	if v := c.Query("users"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "users must be a non-negative integer"})
			return
		}
		maxUsers = n
	}

	c.JSON(http.StatusOK, gin.H{
		"run":       h.info,
		"scheduler": h.status.Status(maxUsers),
		"metrics":   h.sink.Snapshot(),
	})
}

func (h *MonitorHandlers) ListRuns(c *gin.Context) {
	if h.runRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Results store is not configured"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.runRepo.ListRuns(limit)
	if err != nil {
		h.logger.LogError("listing runs", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *MonitorHandlers) GetRun(c *gin.Context) {
	if h.runRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Results store is not configured"})
		return
	}

	run, err := h.runRepo.GetRun(c.Param("id"))
	if err != nil {
		h.logger.LogError("loading run", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// Metrics serves the Prometheus exposition of the sink's registry.
func (h *MonitorHandlers) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.sink.Registry(), promhttp.HandlerOpts{}))
}

// SetupRouter wires the monitor routes behind the access policy.
func SetupRouter(h *MonitorHandlers, access middleware.MonitorAccess, logger *models.LoadLogger) *gin.Engine {
	router := gin.New()
	// The monitor is reached directly; forwarding headers are never trusted.
	router.SetTrustedProxies(nil)
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	router.GET("/api/health", h.HealthCheck)

	guarded := router.Group("/", middleware.MonitorAuth(access, logger))
	{
		guarded.GET("/api/status", h.GetStatus)
		guarded.GET("/api/runs", h.ListRuns)
		guarded.GET("/api/runs/:id", h.GetRun)
		guarded.GET("/metrics", h.Metrics())
	}

	return router
}
