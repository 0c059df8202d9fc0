package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDist(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":                     "<html>app</html>",
		"static/js/main.0123abcd.js":     "plain",
		"static/js/main.0123abcd.js.gz":  "gzipped",
		"static/js/main.0123abcd.js.zst": "zstd",
		"static/css/main.89abcdef.css":   ".a{}",
		"docs/index.html":                "<html>docs</html>",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func TestStatic(t *testing.T) {
	handler := Static(writeDist(t), StaticOptions{Fallback: "index.html"})

	tests := []struct {
		name     string
		method   string
		path     string
		headers  map[string]string
		status   int
		body     string
		encoding string
		cache    string
	}{
		{name: "zstd preferred", path: "/static/js/main.0123abcd.js", headers: map[string]string{"Accept-Encoding": "gzip, deflate, br, zstd"}, status: 200, body: "zstd", encoding: "zstd", cache: immutableCacheControl},
		{name: "gzip", path: "/static/js/main.0123abcd.js", headers: map[string]string{"Accept-Encoding": "gzip"}, status: 200, body: "gzipped", encoding: "gzip", cache: immutableCacheControl},
		{name: "zstd refused", path: "/static/js/main.0123abcd.js", headers: map[string]string{"Accept-Encoding": "zstd;q=0, gzip"}, status: 200, body: "gzipped", encoding: "gzip", cache: immutableCacheControl},
		{name: "identity", path: "/static/js/main.0123abcd.js", status: 200, body: "plain", cache: immutableCacheControl},
		{name: "no siblings", path: "/static/css/main.89abcdef.css", headers: map[string]string{"Accept-Encoding": "gzip"}, status: 200, body: ".a{}", cache: immutableCacheControl},
		{name: "root", path: "/", status: 200, body: "<html>app</html>", cache: revalidateCacheControl},
		{name: "directory index", path: "/docs/", status: 200, body: "<html>docs</html>", cache: revalidateCacheControl},
		{name: "spa fallback", path: "/orders/42", status: 200, body: "<html>app</html>", cache: revalidateCacheControl},
		{name: "html accept fallback", path: "/orders/42.json", headers: map[string]string{"Accept": "text/html,*/*"}, status: 200, body: "<html>app</html>", cache: revalidateCacheControl},
		{name: "missing asset", path: "/static/js/missing.js", status: 404},
		{name: "traversal", path: "/../../etc/passwd.txt", status: 404},
		{name: "post", method: http.MethodPost, path: "/", status: 405},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			res := rec.Result()
			require.Equal(t, tt.status, res.StatusCode)
			if tt.status != http.StatusOK {
				return
			}

			body, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
			assert.Equal(t, tt.encoding, res.Header.Get("Content-Encoding"))
			assert.Equal(t, tt.cache, res.Header.Get("Cache-Control"))
		})
	}
}

func TestStatic_ContentTypeAndVary(t *testing.T) {
	handler := Static(writeDist(t), StaticOptions{})

	req := httptest.NewRequest(http.MethodGet, "/static/js/main.0123abcd.js", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Equal(t, []string{"Accept-Encoding"}, rec.Header().Values("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccepts(t *testing.T) {
	assert.True(t, accepts("gzip, zstd", "zstd"))
	assert.True(t, accepts("*", "gzip"))
	assert.True(t, accepts("GZIP;q=0.5", "gzip"))
	assert.False(t, accepts("gzip;q=0", "gzip"))
	assert.False(t, accepts("br", "gzip"))
	assert.False(t, accepts("", "gzip"))
}
