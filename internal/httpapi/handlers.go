package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Skufu/deprescribe/internal/analysis"
	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/report"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	readyTimeout    = 2 * time.Second
)

type analyzeRequest struct {
	Patient *clinical.PatientInput `json:"patient"`
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func (h *handler) health(c *gin.Context) {
	stats := h.svc.Repository().Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"version":           h.version,
		"uptime_seconds":    int(time.Since(h.started).Seconds()),
		"criteria":          stats,
		"refinement":        enabled(h.refinement),
		"interaction_cache": enabled(h.cache),
		"database":          enabled(h.db != nil),
	})
}

func (h *handler) ready(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"db":     fmt.Sprintf("unhealthy: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "ok"})
}

func (h *handler) supportedDrugs(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.SupportedDrugs())
}

// analyze decodes and runs a patient analysis, writing the error response
// itself when it returns nil.
func (h *handler) analyze(c *gin.Context) *analysis.Result {
	var req analyzeRequest
	if !bindJSON(c, &req) {
		return nil
	}
	if req.Patient == nil {
		abort(c, http.StatusUnprocessableEntity, codeValidation, "request failed validation",
			[]clinical.FieldError{{Field: "patient", Message: "is required"}})
		return nil
	}
	res, err := h.svc.Analyze(c.Request.Context(), *req.Patient)
	if err != nil {
		fail(c, err)
		return nil
	}
	return res
}

func (h *handler) analyzePatient(c *gin.Context) {
	if res := h.analyze(c); res != nil {
		c.JSON(http.StatusOK, res)
	}
}

func (h *handler) exportPatient(c *gin.Context) {
	res := h.analyze(c)
	if res == nil {
		return
	}
	data, err := report.Workbook(res)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, codeExportFailed, "could not build the report", nil)
		return
	}
	name := fmt.Sprintf("deprescribing-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *handler) taperPlan(c *gin.Context) {
	var req analysis.TaperPlanRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.svc.GetTaperPlan(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *handler) interactionChecker(c *gin.Context) {
	var req analysis.InteractionRequest
	if !bindJSON(c, &req) {
		return
	}
	rep, err := h.svc.CheckInteractions(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
