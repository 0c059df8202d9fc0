package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/config"
)

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
}

func TestConfigFlags_Load(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "assetpipe.yaml")
	writeFile(t, file, "entry: ./src/app.js\noutput:\n  path: build\n")

	f := ConfigFlags{Config: file, Output: "out", Mode: "development", Minimize: "false", Clean: "false", Concurrency: 3}
	cfg, err := f.Load()
	require.NoError(t, err)

	assert.Equal(t, config.Entries{{Name: "main", Path: "./src/app.js"}}, cfg.Entry)
	assert.Equal(t, filepath.Join(dir, "out"), cfg.Output.Path)
	assert.Equal(t, config.ModeDevelopment, cfg.Mode)
	assert.False(t, cfg.Optimization.Minimize)
	assert.False(t, cfg.Output.Clean)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, "asset-manifest.json", cfg.Output.Manifest)
}

func TestConfigFlags_LoadDefaults(t *testing.T) {
	f := ConfigFlags{Config: filepath.Join(t.TempDir(), "missing.yaml"), Entry: "./src/index.js"}
	cfg, err := f.Load()
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, cfg.Context)
	assert.Equal(t, config.Entries{{Name: "main", Path: "./src/index.js"}}, cfg.Entry)
	assert.True(t, cfg.Optimization.Minimize)
}

func TestConfigFlags_InvalidOverrides(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	tests := []struct {
		name  string
		flags ConfigFlags
	}{
		{name: "minimize", flags: ConfigFlags{Config: missing, Minimize: "maybe"}},
		{name: "clean", flags: ConfigFlags{Config: missing, Clean: "sometimes"}},
		{name: "mode", flags: ConfigFlags{Config: missing, Mode: "staging"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.Load()
			require.Error(t, err)
		})
	}
}

func TestConfigCmd(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "assetpipe.yaml")
	writeFile(t, file, "entry:\n  admin: ./src/admin.js\n  main: ./src/main.js\n")

	var out bytes.Buffer
	cmd := &ConfigCmd{ConfigFlags: ConfigFlags{Config: file}, out: &out}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	var printed map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, map[string]any{"admin": "./src/admin.js", "main": "./src/main.js"}, printed["entry"])
	assert.Equal(t, "production", printed["mode"])
}

func TestServeCmd_Handler(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src/main.js"), "require('./a.css');\nconsole.log('main');\n")
	writeFile(t, filepath.Join(dir, "src/a.css"), ".a { color: red }\n")
	page := filepath.Join(dir, "templates/app.html")
	writeFile(t, page, `<title>{{.Title}}</title>{{range .Scripts}}<script src="{{.}}"></script>{{end}}`)

	cfg, err := config.New(config.Config{
		Entry:   config.Entries{{Name: "main", Path: "./src/main.js"}},
		Output:  config.Output{Path: "dist", Manifest: "asset-manifest.json"},
		Rules:   []config.Rule{{Test: `\.css$`, Type: config.RuleTypeCSS, Use: []config.LoaderSpec{{Name: "css"}}}},
		Plugins: config.Plugins{HTML: &config.HTMLOptions{Title: "Served"}},
	}, dir, config.WithConcurrency(2))
	require.NoError(t, err)

	res, err := assets.New(cfg).Build(context.Background())
	require.NoError(t, err)
	script := res.Manifest.Files["main.js"]
	require.NotEmpty(t, script)

	c := &ServeCmd{Fallback: "index.html", Template: page, Page: "/app", PageEntry: "main", Title: "Demo"}
	pipeline, err := c.pipeline(cfg)
	require.NoError(t, err)
	handler, err := c.handler(cfg, pipeline, zerolog.Nop())
	require.NoError(t, err)

	get := func(target, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Served</title>")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = get(script, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))

	rec = get("/app", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Demo</title>")
	assert.Regexp(t, regexp.MustCompile(`<script src="/static/js/main\.[0-9a-f]{8}\.js"></script>`), rec.Body.String())

	rec = get("/settings/profile", "text/html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Served</title>")

	rec = get("/static/js/missing.js", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeCmd_TemplateNeedsManifest(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "app.html")
	writeFile(t, page, "<p>{{.Title}}</p>")

	cfg, err := config.New(config.Config{
		Entry:  config.Entries{{Name: "main", Path: "./src/main.js"}},
		Output: config.Output{Path: "dist"},
	}, dir)
	require.NoError(t, err)

	c := &ServeCmd{Template: page, Page: "/app", PageEntry: "main"}
	pipeline, err := c.pipeline(cfg)
	require.NoError(t, err)
	_, err = c.handler(cfg, pipeline, zerolog.Nop())
	require.Error(t, err)
}
