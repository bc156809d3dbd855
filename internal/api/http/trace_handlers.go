package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/stats"
	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/tracing"
	"github.com/egsm/perftrace/internal/shared/utils"
)

// BeginRequest starts a trace.
type BeginRequest struct {
	EntityName      string `json:"entity_name" binding:"required"`
	ProcessInstance string `json:"process_instance" binding:"required"`
	EventData       any    `json:"event_data"`
}

// StageRequest records a stage.
type StageRequest struct {
	Writer     string         `json:"writer"`
	Outputs    []string       `json:"outputs"`
	Attributes map[string]any `json:"attributes"`
}

// CompleteRequest completes a trace.
type CompleteRequest struct {
	Result any `json:"result"`
}

// IncompleteRequest marks a trace incomplete.
type IncompleteRequest struct {
	Reason string `json:"reason"`
}

// bindOptionalJSON binds the body into obj when there is one. An absent or
// empty body, including an empty chunked one, leaves obj unchanged.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func validateBegin(req BeginRequest) error {
	if err := utils.ValidateName("entity_name", req.EntityName); err != nil {
		return err
	}
	return utils.ValidateName("process_instance", req.ProcessInstance)
}

// ListTraces lists traces, optionally filtered by status and process
// instance, in order of their first recorded stage.
func (h *Handlers) ListTraces(c *gin.Context) {
	status := trace.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, fmt.Sprintf("unknown status %q", status))
		return
	}
	process := c.Query("process")

	records := h.store.Records()
	out := make([]trace.Record, 0, len(records))
	for _, rec := range records {
		if status != "" && rec.Status != status {
			continue
		}
		if process != "" && rec.ProcessInstance != process {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamps.First() < out[j].Timestamps.First()
	})

	c.JSON(http.StatusOK, gin.H{
		"traces": out,
		"count":  len(out),
	})
}

// GetTrace returns one trace with its derived delays.
func (h *Handlers) GetTrace(c *gin.Context) {
	cid := c.Param("id")
	rec, ok := h.store.Get(cid)
	if !ok {
		respondError(c, fmt.Errorf("%w: %s", trace.ErrTraceNotFound, cid))
		return
	}

	body := gin.H{
		"trace": rec,
		"hops":  rec.Hops(),
	}
	if e2e, ok := rec.EndToEnd(); ok {
		body["end_to_end_ms"] = e2e
	}
	c.JSON(http.StatusOK, body)
}

// BeginTrace starts a trace and returns its correlation id.
func (h *Handlers) BeginTrace(c *gin.Context) {
	var req BeginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := validateBegin(req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cid, err := h.store.Begin(req.EntityName, req.ProcessInstance, req.EventData)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Debug("trace begun",
		zap.String("correlation_id", cid),
		zap.String("request_correlation_id", tracing.CorrelationID(c.Request.Context())))

	c.Header(tracing.Header, cid)
	c.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"correlation_id": cid,
	})
}

// RecordStage stamps a stage on a trace.
func (h *Handlers) RecordStage(c *gin.Context) {
	stage, err := trace.ParseStage(c.Param("stage"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req StageRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	if req.Writer != "" {
		if err := utils.ValidateComponentID(req.Writer); err != nil {
			badRequest(c, "Invalid writer: "+err.Error())
			return
		}
	}

	cid := c.Param("id")
	data := trace.StageData{Outputs: req.Outputs, Attributes: req.Attributes}
	if err := h.store.RecordStage(cid, stage, req.Writer, data); err != nil {
		respondError(c, err)
		return
	}
	h.respondTrace(c, cid)
}

// CompleteTrace completes a pending trace.
func (h *Handlers) CompleteTrace(c *gin.Context) {
	var req CompleteRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	cid := c.Param("id")
	if err := h.store.Complete(cid, req.Result); err != nil {
		respondError(c, err)
		return
	}
	h.respondTrace(c, cid)
}

// MarkIncomplete ends a pending trace as incomplete.
func (h *Handlers) MarkIncomplete(c *gin.Context) {
	var req IncompleteRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	if err := utils.ValidateText("reason", req.Reason, utils.MaxReasonLength); err != nil {
		badRequest(c, err.Error())
		return
	}

	cid := c.Param("id")
	if err := h.store.MarkIncomplete(cid, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	h.respondTrace(c, cid)
}

// Stats computes statistics over every trace the store holds.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, stats.Compute(h.store.Records()))
}

// Export writes an export set.
func (h *Handlers) Export(c *gin.Context) {
	if h.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "export not configured",
		})
		return
	}

	out, err := h.exporter.Export(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"files":   out,
	})
}

func (h *Handlers) respondTrace(c *gin.Context, cid string) {
	rec, _ := h.store.Get(cid)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"trace":   rec,
	})
}
