package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	httpmw "github.com/wolfeidau/assetpipe/internal/http"
)

func TestRequests(t *testing.T) {
	var buf bytes.Buffer
	handler := httpmw.ClientIPMiddleware(true)(NewRequests(zerolog.New(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Debug().Msg("inside")
		http.NotFound(w, r)
	})))

	req := httptest.NewRequest(http.MethodGet, "/static/js/missing.js", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "http request", entry["message"])
	require.Equal(t, "GET", entry["method"])
	require.Equal(t, "/static/js/missing.js", entry["path"])
	require.Equal(t, "203.0.113.7", entry["client_ip"])
	require.Equal(t, float64(http.StatusNotFound), entry["status"])
	require.Equal(t, float64(len("404 page not found\n")), entry["bytes"])
}

func TestRequests_RemoteAddr(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRequests(zerolog.New(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "192.0.2.10", entry["client_ip"])
	require.Equal(t, float64(http.StatusNoContent), entry["status"])
}

func TestSetup(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}
