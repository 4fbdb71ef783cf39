package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// The websocket passthrough sits behind the same requireSession middleware
// as every other authenticated route, so an unauthenticated upgrade
// attempt must be rejected before a backend dial is ever attempted.
func TestSocket_NoSession_RejectedBeforeUpgrade(t *testing.T) {
	h := newHarness(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
