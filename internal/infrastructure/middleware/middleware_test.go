package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"roomcast/internal/core/domain"
	rlog "roomcast/pkg/logger"
)

func serve(router *gin.Engine, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v[0])
	}
	router.ServeHTTP(w, req)
	return w
}

func TestErrorHandlerMiddleware_MapsDomainErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/missing", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("%w: lobby", domain.ErrRoomNotFound))
	})
	router.GET("/boom", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("disk on fire"))
	})

	w := serve(router, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ROOM_NOT_FOUND", body.Error.Code)
	assert.Contains(t, body.Error.Message, "lobby")

	w = serve(router, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "disk")
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := serve(router, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(RequestLoggerMiddleware(rlog.NewContextLogger(zap.New(core))))
	router.GET("/rooms", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := serve(router, "/rooms", nil)
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)

	w = serve(router, "/rooms", http.Header{RequestIDHeader: []string{"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, generated, entries[0].ContextMap()["request_id"])
	assert.Equal(t, "abc-123", entries[1].ContextMap()["request_id"])
	assert.EqualValues(t, http.StatusNoContent, entries[1].ContextMap()["status_code"])
	assert.Equal(t, "/rooms", entries[1].ContextMap()["path"])
}
