package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/service"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

type TransactionHandler struct {
	svc *service.FraudService
}

func NewTransactionHandler(svc *service.FraudService) *TransactionHandler {
	return &TransactionHandler{svc: svc}
}

func (h *TransactionHandler) Get(c *gin.Context) {
	txn, err := h.svc.Transaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

// Publisher accepts transactions for scoring, typically the in-process
// queue the consumer reads from.
type Publisher interface {
	Push(ctx context.Context, tx model.Transaction) error
}

// IngestHandler feeds posted transactions into the processor queue.
type IngestHandler struct {
	pub     Publisher
	timeout time.Duration
}

func NewIngestHandler(pub Publisher, timeout time.Duration) *IngestHandler {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &IngestHandler{pub: pub, timeout: timeout}
}

func (h *IngestHandler) Create(c *gin.Context) {
	var msg dto.TransactionMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error: "validation failed: " + err.Error(),
		})
		return
	}

	tx, err := msg.ToModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error:  "validation failed",
			Errors: validationErrors(0, err),
		})
		return
	}

	if !h.push(c, []model.Transaction{tx}) {
		return
	}
	c.JSON(http.StatusAccepted, dto.IngestResponse{Accepted: 1, IDs: []string{tx.ID}})
}

func (h *IngestHandler) CreateBatch(c *gin.Context) {
	var req dto.IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error: "validation failed: " + err.Error(),
		})
		return
	}

	// nothing is queued unless every item is valid
	txns := make([]model.Transaction, 0, len(req.Transactions))
	var errs []dto.ValidationError
	for i, msg := range req.Transactions {
		tx, err := msg.ToModel()
		if err != nil {
			errs = append(errs, validationErrors(i, err)...)
			continue
		}
		txns = append(txns, tx)
	}
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorListResponse{
			Error:  "batch validation failed",
			Errors: errs,
		})
		return
	}

	if !h.push(c, txns) {
		return
	}

	ids := make([]string, len(txns))
	for i, tx := range txns {
		ids[i] = tx.ID
	}
	c.JSON(http.StatusAccepted, dto.IngestResponse{Accepted: len(txns), IDs: ids})
}

func (h *IngestHandler) push(c *gin.Context, txns []model.Transaction) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	for i, tx := range txns {
		if err := h.pub.Push(ctx, tx); err != nil {
			msg := "processor queue is full"
			if errors.Is(err, source.ErrClosed) {
				msg = "processor is shutting down"
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg, "accepted": i})
			return false
		}
	}
	return true
}

func validationErrors(index int, err error) []dto.ValidationError {
	if errors.Is(err, dto.ErrNegativeAmount) {
		return []dto.ValidationError{{Index: index, Field: "Amount", Message: "gte=0"}}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]dto.ValidationError, len(verrs))
		for i, fe := range verrs {
			out[i] = dto.ValidationError{Index: index, Field: fe.Field(), Message: fe.Tag()}
		}
		return out
	}
	return []dto.ValidationError{{Index: index, Field: "transaction", Message: err.Error()}}
}
