package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/service"
)

type MetricsHandler struct {
	svc *service.MetricsService
	now func() time.Time
}

func NewMetricsHandler(svc *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{svc: svc, now: time.Now}
}

func parseDate(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// GetRuleMetrics serves per-rule firing counts. Without date_from the
// window is the last 24 hours.
func (h *MetricsHandler) GetRuleMetrics(c *gin.Context) {
	sortBy := c.DefaultQuery("sort_by", "fired_count")
	order := c.DefaultQuery("order", "desc")

	from := h.now().UTC().Add(-24 * time.Hour)
	var to time.Time

	if v := c.Query("date_from"); v != "" {
		t, ok := parseDate(v)
		if !ok {
			c.JSON(http.StatusBadRequest, dto.ErrorListResponse{Error: "invalid date_from format"})
			return
		}
		from = t
	}
	if v := c.Query("date_to"); v != "" {
		t, ok := parseDate(v)
		if !ok {
			c.JSON(http.StatusBadRequest, dto.ErrorListResponse{Error: "invalid date_to format"})
			return
		}
		to = t
	}
	if !to.IsZero() && !from.Before(to) {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{Error: "date_from must be before date_to"})
		return
	}

	results, summary, err := h.svc.GetRuleMetrics(c.Request.Context(), from, to, sortBy, order)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    results,
		"summary": summary,
	})
}
