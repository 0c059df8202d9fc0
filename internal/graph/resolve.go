package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/assetpipe/internal/config"
)

// Resolver implements node style module resolution: relative and root
// relative paths, bare package names looked up in module directories,
// extension probing, package.json main and directory index files.
type Resolver struct {
	root       string
	extensions []string
	modules    []string
}

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		root:       cfg.Context,
		extensions: cfg.Resolve.Extensions,
		modules:    cfg.Resolve.Modules,
	}
}

// Resolve locates request as seen from the directory dir and returns the
// absolute path of the file.
func (r *Resolver) Resolve(dir, request string) (string, error) {
	switch {
	case request == "":
		return "", ErrModuleNotFound
	case strings.HasPrefix(request, "./"), strings.HasPrefix(request, "../"), request == ".", request == "..":
		return r.resolveFile(filepath.Join(dir, filepath.FromSlash(request)))
	case strings.HasPrefix(request, "/"):
		return r.resolveFile(filepath.Join(r.root, filepath.FromSlash(request)))
	default:
		return r.resolvePackage(dir, request)
	}
}

func (r *Resolver) resolvePackage(dir, request string) (string, error) {
	for _, base := range r.moduleDirs(dir) {
		if p, err := r.resolveFile(filepath.Join(base, filepath.FromSlash(request))); err == nil {
			return p, nil
		}
	}
	return "", ErrModuleNotFound
}

// moduleDirs lists candidate module directories from dir up to the context
// root, nearest first, followed by absolute module directories.
func (r *Resolver) moduleDirs(dir string) []string {
	var dirs, absolute []string
	for _, m := range r.modules {
		if filepath.IsAbs(m) {
			absolute = append(absolute, m)
		}
	}

	for cur := dir; ; {
		for _, m := range r.modules {
			if !filepath.IsAbs(m) {
				dirs = append(dirs, filepath.Join(cur, m))
			}
		}
		if cur == r.root || !strings.HasPrefix(cur, r.root) {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return append(dirs, absolute...)
}

func (r *Resolver) resolveFile(p string) (string, error) {
	if isFile(p) {
		return p, nil
	}
	for _, ext := range r.extensions {
		if isFile(p + ext) {
			return p + ext, nil
		}
	}
	if isDir(p) {
		return r.resolveDir(p)
	}
	return "", ErrModuleNotFound
}

func (r *Resolver) resolveDir(dir string) (string, error) {
	main, err := packageMain(dir)
	if err != nil {
		return "", err
	}
	if main != "" {
		target := filepath.Join(dir, filepath.FromSlash(main))
		if isFile(target) {
			return target, nil
		}
		for _, ext := range r.extensions {
			if isFile(target + ext) {
				return target + ext, nil
			}
		}
		if isDir(target) && target != dir {
			if p, err := r.indexFile(target); err == nil {
				return p, nil
			}
		}
	}
	return r.indexFile(dir)
}

func (r *Resolver) indexFile(dir string) (string, error) {
	for _, ext := range r.extensions {
		p := filepath.Join(dir, "index"+ext)
		if isFile(p) {
			return p, nil
		}
	}
	return "", ErrModuleNotFound
}

func packageMain(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("invalid package.json in %s: %w", dir, err)
	}
	return pkg.Main, nil
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

// splitRequest separates a query or fragment suffix from a request.
func splitRequest(request string) (string, string) {
	if i := strings.IndexAny(request, "?#"); i >= 0 {
		return request[:i], request[i:]
	}
	return request, ""
}
