package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}

func TestRequestHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Device-Id", "dev-1")
	req.Header.Set("X-Request-Id", "req-1")

	assert.Equal(t, "dev-1", DeviceIDFromRequest(req))
	assert.Equal(t, "req-1", RequestIDFromRequest(req))
	assert.Empty(t, TraceIDFromRequest(req))
}
