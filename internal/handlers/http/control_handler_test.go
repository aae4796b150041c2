package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/middleware"
	"livecast/internal/infrastructure/repositories/memory"
	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *services.StreamService, *services.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	streams := services.NewStreamService(memory.NewStreamRepository(), memory.NewViewerCountStore(), nil)
	tokens := services.NewTokenService("test-secret", time.Hour)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(nil))
	handler := NewControlHandler(streams, tokens, nil)
	handler.SetupRoutes(router)
	return router, streams, tokens
}

func doJSON(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestControlHandler_CreateStream(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/streams", gin.H{"broadcaster_id": "host-1"}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Stream struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Kind   string `json:"kind"`
		} `json:"stream"`
		HostToken string `json:"host_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Stream.ID)
	assert.Equal(t, "draft", resp.Stream.Status)
	assert.Equal(t, "video", resp.Stream.Kind)
	assert.NotEmpty(t, resp.HostToken)
}

func TestControlHandler_CreateStream_RequiresBroadcaster(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/streams", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeInvalidInput))
}

func TestControlHandler_GetStream(t *testing.T) {
	router, streams, _ := newTestRouter(t)

	stream, err := streams.CreateStream(context.Background(), "host-1", domain.StreamKindAudio)
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/streams/"+string(stream.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Stream struct {
			ID            string `json:"id"`
			BroadcasterID string `json:"broadcaster_id"`
			Kind          string `json:"kind"`
		} `json:"stream"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(stream.ID), resp.Stream.ID)
	assert.Equal(t, "host-1", resp.Stream.BroadcasterID)
	assert.Equal(t, "audio", resp.Stream.Kind)
}

func TestControlHandler_GetStream_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/streams/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeNotFound))
	assert.Contains(t, w.Body.String(), "stream not found")
}

func TestControlHandler_GetStatus(t *testing.T) {
	router, streams, _ := newTestRouter(t)

	stream, err := streams.CreateStream(context.Background(), "host-1", "")
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/streams/"+string(stream.ID)+"/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"draft"}`, w.Body.String())
}

func TestControlHandler_GoLive_RequiresToken(t *testing.T) {
	router, streams, _ := newTestRouter(t)

	stream, err := streams.CreateStream(context.Background(), "host-1", "")
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/api/v1/streams/"+string(stream.ID)+"/go-live", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControlHandler_GoLive_RejectsForeignToken(t *testing.T) {
	router, streams, tokens := newTestRouter(t)

	stream, err := streams.CreateStream(context.Background(), "host-1", "")
	require.NoError(t, err)
	other, err := streams.CreateStream(context.Background(), "host-2", "")
	require.NoError(t, err)

	token, err := tokens.IssueHostToken(other.ID, other.BroadcasterID)
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/api/v1/streams/"+string(stream.ID)+"/go-live", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControlHandler_GoLive_NoBroadcasterOnNode(t *testing.T) {
	router, streams, tokens := newTestRouter(t)

	stream, err := streams.CreateStream(context.Background(), "host-1", "")
	require.NoError(t, err)
	token, err := tokens.IssueHostToken(stream.ID, stream.BroadcasterID)
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/api/v1/streams/"+string(stream.ID)+"/go-live", nil, token)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestControlHandler_Health(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
