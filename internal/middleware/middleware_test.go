package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"wrapped no rows", fmt.Errorf("get transaction x: %w", pgx.ErrNoRows), http.StatusNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, http.StatusConflict},
		{"check violation", &pgconn.PgError{Code: "23514"}, http.StatusBadRequest},
		{"timeout", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"anything else", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := MapDBError(tc.err)
			assert.Equal(t, tc.status, status)
		})
	}
}

func TestAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(key string) *gin.Engine {
		r := gin.New()
		r.Use(APIKey(key))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	tests := []struct {
		name   string
		key    string
		header string
		status int
	}{
		{"happy: auth disabled", "", "", http.StatusOK},
		{"happy: matching key", "s3cret", "s3cret", http.StatusOK},
		{"bad: missing key", "s3cret", "", http.StatusUnauthorized},
		{"bad: wrong key", "s3cret", "guess", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/x", nil)
			if tc.header != "" {
				req.Header.Set(APIKeyHeader, tc.header)
			}
			newRouter(tc.key).ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/missing", func(c *gin.Context) { _ = c.Error(pgx.ErrNoRows) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/missing", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"resource not found"}`, w.Body.String())
}

func TestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	r := gin.New()
	r.Use(Logger("api"))
	r.GET("/transactions/:id", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("inside handler")
		c.Status(http.StatusNotFound)
	})

	serve := func(header string) (*httptest.ResponseRecorder, []map[string]any) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/transactions/4111111111111111", nil)
		if header != "" {
			req.Header.Set(RequestIDHeader, header)
		}
		r.ServeHTTP(w, req)

		var lines []map[string]any
		for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
			var line map[string]any
			require.NoError(t, json.Unmarshal(raw, &line))
			lines = append(lines, line)
		}
		return w, lines
	}

	t.Run("happy: request id minted and shared with handler logs", func(t *testing.T) {
		w, lines := serve("")
		id := w.Header().Get(RequestIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)

		require.Len(t, lines, 2)
		assert.Equal(t, "inside handler", lines[0]["message"])
		assert.Equal(t, id, lines[0][RequestIDKey])
		assert.Equal(t, "api", lines[1]["component"])
		assert.Equal(t, id, lines[1][RequestIDKey])
		assert.Equal(t, "warn", lines[1]["level"])
		assert.Equal(t, "/transactions/:id", lines[1]["route"])
		assert.NotContains(t, buf.String(), "4111111111111111")
	})

	t.Run("happy: caller request id kept", func(t *testing.T) {
		given := uuid.NewString()
		w, lines := serve(given)
		assert.Equal(t, given, w.Header().Get(RequestIDHeader))
		assert.Equal(t, given, lines[1][RequestIDKey])
	})

	t.Run("bad: non-uuid request id replaced", func(t *testing.T) {
		w, _ := serve("x\" injected")
		id := w.Header().Get(RequestIDHeader)
		assert.NotEqual(t, "x\" injected", id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})
}
