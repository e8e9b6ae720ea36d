package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anyulbade/card-fraud-monitor/internal/service"
)

// ReadServices groups the query services behind the read API.
type ReadServices struct {
	Frauds  *service.FraudService
	Trends  *service.TrendService
	Metrics *service.MetricsService
}

func RegisterReadRoutes(api *gin.RouterGroup, svc ReadServices) {
	frauds := NewFraudHandler(svc.Frauds)
	txns := NewTransactionHandler(svc.Frauds)
	trends := NewTrendHandler(svc.Trends)
	byRule := NewMetricsHandler(svc.Metrics)

	api.GET("/frauds/recent", frauds.GetRecent)
	api.GET("/frauds/stats", frauds.GetStats)
	api.GET("/frauds/by-country", frauds.GetByCountry)
	api.GET("/frauds/by-category", frauds.GetByCategory)
	api.GET("/frauds/overview", frauds.GetOverview)
	api.GET("/frauds/trend", trends.GetTrends)
	api.GET("/frauds/by-rule", byRule.GetRuleMetrics)
	api.GET("/transactions/:id", txns.Get)
}

func RegisterIngestRoutes(api *gin.RouterGroup, pub Publisher, timeout time.Duration) {
	ingest := NewIngestHandler(pub, timeout)

	api.POST("/transactions", ingest.Create)
	api.POST("/transactions/batch", ingest.CreateBatch)
}
