package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/export"
	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/monitoring"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// TraceStore is the part of the trace store the API drives.
type TraceStore interface {
	Component() string
	Begin(entity, instance string, payload any) (string, error)
	RecordStage(cid string, stage trace.Stage, writer string, data trace.StageData) error
	Complete(cid string, result any) error
	MarkIncomplete(cid, reason string) error
	Get(cid string) (trace.Record, bool)
	Records() []trace.Record
	Pending() []trace.Record
	Len() int
}

// Exporter writes an export set on demand.
type Exporter interface {
	Export(ctx context.Context) (export.Paths, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store    TraceStore
	exporter Exporter
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set. exporter and metrics may be nil.
func NewHandlers(store TraceStore, exporter Exporter, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		store:    store,
		exporter: exporter,
		metrics:  metrics,
		logger:   logger.Named("api"),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)

	r.GET("/traces", h.ListTraces)
	r.GET("/traces/:id", h.GetTrace)
	r.POST("/traces", h.BeginTrace)
	r.POST("/traces/:id/stages/:stage", h.RecordStage)
	r.POST("/traces/:id/complete", h.CompleteTrace)
	r.POST("/traces/:id/incomplete", h.MarkIncomplete)

	r.POST("/export", h.Export)
}

// Root handles the liveness probe
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"service":   "perftrace",
		"component": h.store.Component(),
		"version":   Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"component": h.store.Component(),
		"traces": gin.H{
			"total":   h.store.Len(),
			"pending": len(h.store.Pending()),
		},
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}
