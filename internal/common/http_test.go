package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	require.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.4")
	require.Equal(t, "192.0.2.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, ok := BearerToken(req)
	require.False(t, ok)

	req.Header.Set("Authorization", "bearer abc.def")
	tok, ok := BearerToken(req)
	require.True(t, ok)
	require.Equal(t, "abc.def", tok)

	req.Header.Set("Authorization", "Basic Zm9v")
	_, ok = BearerToken(req)
	require.False(t, ok)
}
