package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/logger"
)

func serveRequestID(t *testing.T, header string) (ctxID, respID string) {
	t.Helper()
	handler := RequestID(zap.NewNop())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get("X-Request-ID")
}

func TestRequestIDGenerated(t *testing.T) {
	ctxID, respID := serveRequestID(t, "")
	assert.Len(t, respID, 32)
	assert.Equal(t, respID, ctxID)
}

func TestRequestIDPropagated(t *testing.T) {
	ctxID, respID := serveRequestID(t, "my-custom-id-123")
	assert.Equal(t, "my-custom-id-123", ctxID)
	assert.Equal(t, "my-custom-id-123", respID)
}

func TestRequestIDRejectsUnsafeValues(t *testing.T) {
	for _, bad := range []string{strings.Repeat("a", 200), "id with spaces", "line\nbreak"} {
		ctxID, respID := serveRequestID(t, bad)
		assert.NotEqual(t, bad, ctxID)
		assert.Len(t, respID, 32)
	}
}
