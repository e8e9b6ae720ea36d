package dto

// IngestBatchRequest carries transactions posted to the ingest endpoint.
// Items are validated individually so one bad row is reported by index.
type IngestBatchRequest struct {
	Transactions []TransactionMessage `json:"transactions" binding:"required,min=1,max=500"`
}

// WindowQuery is the look-back window shared by the fraud analytics routes.
type WindowQuery struct {
	Hours int `form:"hours" binding:"omitempty,min=1,max=720"`
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

const (
	DefaultWindowHours = 24
	DefaultTopLimit    = 10
)

func (q WindowQuery) WithDefaults() WindowQuery {
	if q.Hours == 0 {
		q.Hours = DefaultWindowHours
	}
	if q.Limit == 0 {
		q.Limit = DefaultTopLimit
	}
	return q
}

type TrendQuery struct {
	Period      string `form:"period" binding:"omitempty,oneof=hour day"`
	PeriodsBack int    `form:"periods_back" binding:"omitempty,min=1,max=168"`
}

func (q TrendQuery) WithDefaults() TrendQuery {
	if q.Period == "" {
		q.Period = "hour"
	}
	if q.PeriodsBack == 0 {
		q.PeriodsBack = 24
	}
	return q
}
