package publish

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type put struct {
	key  string
	body string
	opts minio.PutObjectOptions
}

type fakePutter struct {
	mu       sync.Mutex
	puts     []put
	attempts map[string]int
	// failures maps a key to the errors returned before it succeeds
	failures map[string][]error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	n := f.attempts[key]
	f.attempts[key]++
	if n < len(f.failures[key]) {
		return minio.UploadInfo{}, f.failures[key][n]
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, io.ErrShortWrite
	}
	f.puts = append(f.puts, put{key: key, body: string(data), opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func writeDist(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"index.html":                    "<html></html>",
		"asset-manifest.json":           "{}",
		"static/js/main.0123abcd.js":    "main()",
		"static/js/main.0123abcd.js.gz": "gz",
		"static/css/main.89abcdef.css":  ".a{}",
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func zero() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestPublish(t *testing.T) {
	slowDown := minio.ErrorResponse{StatusCode: http.StatusServiceUnavailable, Code: "SlowDown"}
	putter := &fakePutter{failures: map[string][]error{
		"site/static/js/main.0123abcd.js": {slowDown, slowDown},
	}}

	p := New(putter, "assets", WithPrefix("/site/"), WithConcurrency(1), WithBackOff(zero))
	res, err := p.Publish(context.Background(), writeDist(t))
	require.NoError(t, err)

	require.Equal(t, Result{Objects: 5, Bytes: 27, Retries: 2}, res)
	require.Equal(t, 3, putter.attempts["site/static/js/main.0123abcd.js"])

	var keys []string
	byKey := map[string]put{}
	for _, p := range putter.puts {
		keys = append(keys, p.key)
		byKey[p.key] = p
	}
	require.Equal(t, []string{
		"site/static/css/main.89abcdef.css",
		"site/static/js/main.0123abcd.js",
		"site/static/js/main.0123abcd.js.gz",
		"site/asset-manifest.json",
		"site/index.html",
	}, keys)

	js := byKey["site/static/js/main.0123abcd.js"]
	assert.Equal(t, "main()", js.body)
	assert.Equal(t, "public, max-age=31536000, immutable", js.opts.CacheControl)
	assert.Contains(t, js.opts.ContentType, "javascript")

	gz := byKey["site/static/js/main.0123abcd.js.gz"]
	assert.Equal(t, "gzip", gz.opts.ContentEncoding)
	assert.Contains(t, gz.opts.ContentType, "javascript")

	page := byKey["site/index.html"]
	assert.Equal(t, "no-cache", page.opts.CacheControl)
	assert.Contains(t, page.opts.ContentType, "text/html")
}

func TestPublish_PermanentFailure(t *testing.T) {
	denied := minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}
	putter := &fakePutter{failures: map[string][]error{
		"static/css/main.89abcdef.css": {denied},
	}}

	p := New(putter, "assets", WithConcurrency(1), WithBackOff(zero))
	_, err := p.Publish(context.Background(), writeDist(t))

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	require.Equal(t, "static/css/main.89abcdef.css", uploadErr.Key)
	require.Equal(t, 1, putter.attempts["static/css/main.89abcdef.css"])

	for _, p := range putter.puts {
		require.NotEqual(t, "index.html", p.key, "pages must not be uploaded after a failed asset")
	}
}

func TestPublish_GivesUp(t *testing.T) {
	down := minio.ErrorResponse{StatusCode: http.StatusInternalServerError, Code: "InternalError"}
	putter := &fakePutter{failures: map[string][]error{
		"index.html": {down, down, down, down},
	}}

	p := New(putter, "assets", WithMaxTries(3), WithBackOff(zero))
	_, err := p.Publish(context.Background(), writeDist(t))
	require.Error(t, err)
	require.Equal(t, 3, putter.attempts["index.html"])
}

func TestPublish_Empty(t *testing.T) {
	p := New(&fakePutter{}, "assets")
	_, err := p.Publish(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrNothingToPublish)
}
