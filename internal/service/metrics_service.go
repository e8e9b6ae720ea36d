package service

import (
	"context"
	"math"
	"time"

	"github.com/anyulbade/card-fraud-monitor/internal/repository"
)

type RuleMetricsReader interface {
	RuleMetrics(ctx context.Context, from, to time.Time, sortBy, order string) ([]repository.RuleMetricRow, int, error)
}

type MetricsService struct {
	repo RuleMetricsReader
}

func NewMetricsService(repo RuleMetricsReader) *MetricsService {
	return &MetricsService{repo: repo}
}

type RuleMetric struct {
	Rule          string  `json:"rule"`
	FiredCount    int     `json:"fired_count"`
	FraudSharePct float64 `json:"fraud_share_pct"`
	TotalAmount   float64 `json:"total_amount"`
	AvgFraudScore float64 `json:"avg_fraud_score"`
	SoleTrigger   int     `json:"sole_trigger_count"`
}

type RuleMetricsSummary struct {
	TotalFrauds     int     `json:"total_frauds"`
	TotalFirings    int     `json:"total_firings"`
	RulesPerFraud   float64 `json:"avg_rules_per_fraud"`
	MostFrequent    string  `json:"most_frequent_rule,omitempty"`
	MostFrequentPct float64 `json:"most_frequent_share_pct"`
}

// GetRuleMetrics reports how often each rule contributed to a fraud
// verdict. Share percentages are relative to distinct frauds, so they can
// sum past 100 when several rules fire together.
func (s *MetricsService) GetRuleMetrics(ctx context.Context, from, to time.Time, sortBy, order string) ([]RuleMetric, RuleMetricsSummary, error) {
	rows, totalFrauds, err := s.repo.RuleMetrics(ctx, from, to, sortBy, order)
	if err != nil {
		return nil, RuleMetricsSummary{}, err
	}

	results := make([]RuleMetric, len(rows))
	summary := RuleMetricsSummary{TotalFrauds: totalFrauds}
	for i, r := range rows {
		share := 0.0
		if totalFrauds > 0 {
			share = round2(float64(r.FiredCount) / float64(totalFrauds) * 100)
		}
		results[i] = RuleMetric{
			Rule:          r.Rule,
			FiredCount:    r.FiredCount,
			FraudSharePct: share,
			TotalAmount:   round2(r.TotalAmount),
			AvgFraudScore: math.Round(r.AvgFraudScore*1000) / 1000,
			SoleTrigger:   r.SoleTrigger,
		}

		summary.TotalFirings += r.FiredCount
		if r.FiredCount > 0 && (summary.MostFrequent == "" || share > summary.MostFrequentPct) {
			summary.MostFrequent = r.Rule
			summary.MostFrequentPct = share
		}
	}
	if totalFrauds > 0 {
		summary.RulesPerFraud = round2(float64(summary.TotalFirings) / float64(totalFrauds))
	}
	return results, summary, nil
}
