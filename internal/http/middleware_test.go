package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.10:54321", want: "192.0.2.10"},
		{name: "remote addr ipv6", remoteAddr: "[2001:db8::1]:54321", want: "2001:db8::1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.10", want: "192.0.2.10"},
		{
			name:       "forwarded ignored without proxy",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.2"},
			remoteAddr: "192.0.2.10:54321",
			want:       "192.0.2.10",
		},
		{
			name:       "first forwarded address",
			trustProxy: true,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1  ,  198.51.100.1"},
			remoteAddr: "192.0.2.10:54321",
			want:       "203.0.113.1",
		},
		{
			name:       "forwarded before real ip",
			trustProxy: true,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1,198.51.100.1", "X-Real-IP": "203.0.113.2"},
			remoteAddr: "192.0.2.10:54321",
			want:       "203.0.113.1",
		},
		{
			name:       "real ip",
			trustProxy: true,
			headers:    map[string]string{"X-Real-IP": " 203.0.113.2 "},
			remoteAddr: "192.0.2.10:54321",
			want:       "203.0.113.2",
		},
		{
			name:       "empty forwarded entry",
			trustProxy: true,
			headers:    map[string]string{"X-Forwarded-For": " , 198.51.100.1"},
			remoteAddr: "192.0.2.10:54321",
			want:       "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			require.Equal(t, tt.want, ExtractClientIP(r, tt.trustProxy))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var captured string
	handler := ClientIPMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1")
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "203.0.113.1", captured)
	require.Empty(t, ClientIPFromContext(context.Background()))
}
