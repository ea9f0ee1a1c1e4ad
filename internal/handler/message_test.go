package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/convo/internal/middleware"
)

// These cases are rejected before any collaborator is touched, so the
// handler runs with nil repositories.

func postMessage(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewMessageHandler(nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "alice"))
	rec := httptest.NewRecorder()
	h.Send(rec, req)
	return rec
}

func TestSendRejectsAmbiguousTarget(t *testing.T) {
	rec := postMessage(t, `{"receiver_id":"bob","group_id":"g1","content":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not both")
}

func TestSendRejectsInvalidBody(t *testing.T) {
	rec := postMessage(t, `{"receiver_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendRejectsEmptyDirectContent(t *testing.T) {
	rec := postMessage(t, `{"receiver_id":"bob","content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
