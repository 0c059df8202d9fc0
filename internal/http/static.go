package http

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	immutableCacheControl  = "public, max-age=31536000, immutable"
	revalidateCacheControl = "no-cache"
)

// hashedName matches file names carrying an eight or more character hex
// content hash, such as main.0123abcd.js or main.0123abcd.chunk.css.map.
var hashedName = regexp.MustCompile(`[.-][0-9a-f]{8,}\.`)

// encodings lists precompressed siblings in order of preference.
var encodings = []struct {
	name string
	ext  string
}{
	{name: "zstd", ext: ".zst"},
	{name: "gzip", ext: ".gz"},
}

// StaticOptions configures Static.
type StaticOptions struct {
	// Fallback is served for unknown paths that look like page navigations,
	// empty disables the fallback
	Fallback string
}

// Static serves files from dir. Precompressed .zst and .gz siblings are
// served when the client accepts them, hashed names get a long lived
// immutable Cache-Control, and unknown page paths fall back to
// opts.Fallback so client side routing works.
func Static(dir string, opts StaticOptions) http.Handler {
	return &static{root: os.DirFS(dir), fallback: opts.Fallback}
}

type static struct {
	root     fs.FS
	fallback string
}

func (s *static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}

	if info, err := fs.Stat(s.root, name); err == nil && info.IsDir() {
		name = path.Join(name, "index.html")
	}

	if _, err := fs.Stat(s.root, name); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || s.fallback == "" || !navigation(r, name) {
			http.NotFound(w, r)
			return
		}
		name = s.fallback
	}

	s.serve(w, r, name)
}

func (s *static) serve(w http.ResponseWriter, r *http.Request, name string) {
	h := w.Header()
	if ctype := mime.TypeByExtension(path.Ext(name)); ctype != "" {
		h.Set("Content-Type", ctype)
	}
	h.Set("Cache-Control", CacheControl(name))

	served := name
	for _, enc := range encodings {
		if _, err := fs.Stat(s.root, name+enc.ext); err != nil {
			continue
		}
		h.Set("Vary", "Accept-Encoding")
		if served == name && accepts(r.Header.Get("Accept-Encoding"), enc.name) {
			h.Set("Content-Encoding", enc.name)
			served = name + enc.ext
		}
	}

	f, err := s.root.Open(served)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, filepath.Base(name), info.ModTime(), rs)
}

// CacheControl returns the Cache-Control value for an output file. Names
// carrying a content hash never change and may be cached forever.
func CacheControl(name string) string {
	if Hashed(name) {
		return immutableCacheControl
	}
	return revalidateCacheControl
}

// Hashed reports whether the base of name embeds a content hash.
func Hashed(name string) bool {
	return hashedName.MatchString(path.Base(name))
}

// navigation reports whether a missing path should get the fallback page.
func navigation(r *http.Request, name string) bool {
	if path.Ext(name) == "" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// accepts reports whether an Accept-Encoding header allows coding.
func accepts(header, coding string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(part, ";")
		name = strings.TrimSpace(name)
		if !strings.EqualFold(name, coding) && name != "*" {
			continue
		}
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				return false
			}
		}
		return true
	}
	return false
}
