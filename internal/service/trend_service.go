package service

import (
	"context"
	"math"
	"time"

	"github.com/anyulbade/card-fraud-monitor/internal/repository"
)

type TrendReader interface {
	GetTrends(ctx context.Context, period string, since time.Time) ([]repository.TrendBucket, error)
}

type TrendService struct {
	repo TrendReader
	now  func() time.Time
}

func NewTrendService(repo TrendReader) *TrendService {
	return &TrendService{repo: repo, now: time.Now}
}

type TrendPoint struct {
	Period           time.Time `json:"period"`
	Transactions     int       `json:"transactions"`
	Frauds           int       `json:"frauds"`
	FraudRate        float64   `json:"fraud_rate_pct"`
	FraudAmount      float64   `json:"fraud_amount"`
	PercentageChange float64   `json:"percentage_change"`
	Direction        string    `json:"direction,omitempty"`
}

type TrendSummary struct {
	Period       string       `json:"period"`
	Points       []TrendPoint `json:"points"`
	OverallTrend string       `json:"overall_trend"`
	Slope        float64      `json:"slope"`
	RSquared     float64      `json:"r_squared"`
}

// GetTrends returns the fraud rate per bucket for the last periodsBack
// buckets, each compared with the bucket before it.
func (s *TrendService) GetTrends(ctx context.Context, period string, periodsBack int) (TrendSummary, error) {
	if periodsBack < 1 {
		periodsBack = 24
	}

	step := time.Hour
	if period == repository.PeriodDay {
		step = 24 * time.Hour
	}
	since := s.now().UTC().Truncate(step).Add(-time.Duration(periodsBack-1) * step)

	buckets, err := s.repo.GetTrends(ctx, period, since)
	if err != nil {
		return TrendSummary{}, err
	}

	points := make([]TrendPoint, len(buckets))
	rates := make([]float64, len(buckets))
	for i, b := range buckets {
		rate := 0.0
		if b.TransactionCount > 0 {
			rate = math.Round(float64(b.FraudCount)/float64(b.TransactionCount)*10000) / 100
		}
		rates[i] = rate

		p := TrendPoint{
			Period:       b.Period,
			Transactions: b.TransactionCount,
			Frauds:       b.FraudCount,
			FraudRate:    rate,
			FraudAmount:  round2(b.FraudAmount),
		}
		if i > 0 {
			prev := rates[i-1]
			if prev != 0 {
				p.PercentageChange = math.Round((rate-prev)/prev*10000) / 100
			}
			switch {
			case math.Abs(rate-prev) < 0.01:
				p.Direction = "FLAT"
			case rate > prev:
				p.Direction = "UP"
			default:
				p.Direction = "DOWN"
			}
		}
		points[i] = p
	}

	slope, r2 := linearRegression(rates)
	overall := "VOLATILE"
	if len(rates) >= 2 && r2 >= 0.5 {
		switch {
		case slope > 0:
			overall = "RISING"
		case slope < 0:
			overall = "FALLING"
		default:
			overall = "STABLE"
		}
	}

	return TrendSummary{
		Period:       period,
		Points:       points,
		OverallTrend: overall,
		Slope:        math.Round(slope*100) / 100,
		RSquared:     math.Round(r2*10000) / 10000,
	}, nil
}

func linearRegression(values []float64) (slope, rSquared float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, v := range values {
		predicted := slope*float64(i) + intercept
		ssRes += (v - predicted) * (v - predicted)
		ssTot += (v - meanY) * (v - meanY)
	}

	if ssTot == 0 {
		return slope, 1.0
	}
	return slope, 1 - ssRes/ssTot
}
