package dto

// PageQuery selects a page of the fraud listing. Out-of-range values are
// rejected by binding rather than clamped.
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1,max=10000"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

func (q PageQuery) WithDefaults() PageQuery {
	if q.Page == 0 {
		q.Page = DefaultPage
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	return q
}

// Offset is the number of records before the page. Call it on a query
// with defaults applied.
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Of describes the page against totalItems matching records.
func (q PageQuery) Of(totalItems int) Pagination {
	totalPages := 0
	if totalItems > 0 && q.PageSize > 0 {
		totalPages = (totalItems + q.PageSize - 1) / q.PageSize
	}
	return Pagination{
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
	}
}
