package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/service"
)

type FraudHandler struct {
	svc *service.FraudService
}

func NewFraudHandler(svc *service.FraudService) *FraudHandler {
	return &FraudHandler{svc: svc}
}

func (h *FraudHandler) GetRecent(c *gin.Context) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error: "invalid query: " + err.Error(),
		})
		return
	}
	q = q.WithDefaults()

	records, total, err := h.svc.Recent(c.Request.Context(), q.PageSize, q.Offset())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       records,
		"pagination": q.Of(total),
	})
}

func (h *FraudHandler) GetStats(c *gin.Context) {
	q, ok := bindWindow(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(c.Request.Context(), q.Hours)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *FraudHandler) GetByCountry(c *gin.Context) {
	q, ok := bindWindow(c)
	if !ok {
		return
	}

	rows, err := h.svc.TopCountries(c.Request.Context(), q.Hours, q.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "window_hours": q.Hours})
}

func (h *FraudHandler) GetByCategory(c *gin.Context) {
	q, ok := bindWindow(c)
	if !ok {
		return
	}

	rows, err := h.svc.Categories(c.Request.Context(), q.Hours)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "window_hours": q.Hours})
}

func (h *FraudHandler) GetOverview(c *gin.Context) {
	q, ok := bindWindow(c)
	if !ok {
		return
	}

	ov, err := h.svc.Overview(c.Request.Context(), q.Hours, q.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ov, "window_hours": q.Hours})
}

func bindWindow(c *gin.Context) (dto.WindowQuery, bool) {
	var q dto.WindowQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error: "invalid query: " + err.Error(),
		})
		return q, false
	}
	return q.WithDefaults(), true
}
