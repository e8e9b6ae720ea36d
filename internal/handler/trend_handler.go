package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/service"
)

type TrendHandler struct {
	svc *service.TrendService
}

func NewTrendHandler(svc *service.TrendService) *TrendHandler {
	return &TrendHandler{svc: svc}
}

func (h *TrendHandler) GetTrends(c *gin.Context) {
	var q dto.TrendQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error: "invalid query: " + err.Error(),
		})
		return
	}
	q = q.WithDefaults()

	summary, err := h.svc.GetTrends(c.Request.Context(), q.Period, q.PeriodsBack)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
