package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports database connectivity and, on the processor, the
// state of its pipeline. A nil db means storage is in memory.
type HealthHandler struct {
	db     Pinger
	states map[string]func() string
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, states: map[string]func() string{}}
}

// WithState adds a named component whose state is reported as-is.
func (h *HealthHandler) WithState(name string, fn func() string) *HealthHandler {
	h.states[name] = fn
	return h
}

func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{}
	for name, fn := range h.states {
		body[name] = fn()
	}

	if h.db == nil {
		body["status"] = "healthy"
		body["database"] = "disabled"
		c.JSON(http.StatusOK, body)
		return
	}

	if err := h.db.Ping(c.Request.Context()); err != nil {
		body["status"] = "unhealthy"
		body["database"] = "disconnected"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "healthy"
	body["database"] = "connected"
	c.JSON(http.StatusOK, body)
}
