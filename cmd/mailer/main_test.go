package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(rate float64) (*gin.Engine, *MockProvider) {
	gin.SetMode(gin.TestMode)
	p := NewMockProvider(rate, 0, 0)
	return SetupRouter(NewHandler(p, 0)), p
}

func TestSendEmail(t *testing.T) {
	router, p := newTestRouter(1)

	body := `{"message_id":"m1","to":"bob@example.com","from":"no-reply@example.com","subject":"hi","text":"hello"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/email/send", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp SendEmailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusSent, resp.Status)
	assert.Equal(t, "m1", resp.MessageID)
	require.Len(t, p.Outbox(), 1)
	assert.Equal(t, "bob@example.com", p.Outbox()[0].To)
}

func TestSendEmail_Rejected(t *testing.T) {
	router, p := newTestRouter(0)

	body := `{"to":"bob@example.com","from":"no-reply@example.com","subject":"hi","text":"hello"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/email/send", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp SendEmailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusRejected, resp.Status)
	assert.NotEmpty(t, resp.ErrorCode)
	assert.NotEmpty(t, resp.MessageID)
	assert.Empty(t, p.Outbox())
}

func TestSendEmail_BadRequest(t *testing.T) {
	router, _ := newTestRouter(1)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/email/send", strings.NewReader(`{"to":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndConfig(t *testing.T) {
	router, p := newTestRouter(1)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"success_rate":0.5}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.5, p.SuccessRate())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"success_rate":3}`)))
	assert.Equal(t, 0.5, p.SuccessRate())
}
