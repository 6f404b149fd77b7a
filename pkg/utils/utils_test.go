package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondError(resp, http.StatusNotFound, "user not found")

	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"user not found"}`, resp.Body.String())
}

func TestSendSSEEvent(t *testing.T) {
	resp := httptest.NewRecorder()
	SetupSSEHeaders(resp)

	require.NoError(t, SendSSEEvent(resp, resp, "user", map[string]string{"id": "u1"}))
	require.NoError(t, SendSSEComment(resp, resp, "keepalive"))

	require.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	require.Equal(t, "event: user\ndata: {\"id\":\"u1\"}\n\n: keepalive\n\n", resp.Body.String())
	require.True(t, resp.Flushed)
}
