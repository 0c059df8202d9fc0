// Package assets runs builds. A Pipeline builds the module graph, partitions
// it into chunks, renders assets and writes them, firing plugin hooks between
// stages, and keeps the resulting manifest so pages can look up the scripts
// of an entry.
package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/hooks"
	"github.com/wolfeidau/assetpipe/internal/loader"
)

// Result describes a completed build.
type Result struct {
	ID       string
	Manifest *emit.Manifest
	Modules  int
	Chunks   int
	Assets   int
	Bytes    int64
	Duration time.Duration
}

// Pipeline runs builds for one configuration. Builds are serialized since
// they share the output directory.
type Pipeline struct {
	cfg      *config.Config
	registry *loader.Registry
	extra    []hooks.Plugin
	manifest *emit.Manifest
	tmpl     *template.Template
	mu       sync.RWMutex
}

// New creates a new asset pipeline for cfg
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		registry: loader.NewRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewWithTemplate creates a new asset pipeline and loads a single page template
func NewWithTemplate(cfg *config.Config, templatePath string, opts ...Option) (*Pipeline, error) {
	return NewWithTemplateAndFuncs(cfg, templatePath, nil, opts...)
}

// NewWithTemplateAndFuncs creates a new asset pipeline and loads a single page template with custom functions
func NewWithTemplateAndFuncs(cfg *config.Config, templatePath string, customFuncs template.FuncMap, opts ...Option) (*Pipeline, error) {
	p := New(cfg, opts...)

	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}

	maps.Copy(funcs, customFuncs)

	tmpl, err := template.New(filepath.Base(templatePath)).Funcs(funcs).ParseFiles(templatePath)
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl
	return p, nil
}

// Config returns the configuration the pipeline builds.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

func marshal(value any) string {
	buf := new(bytes.Buffer)

	if err := json.NewEncoder(buf).Encode(value); err != nil {
		panic(errors.New("context can only be json serializable"))
	}

	return buf.String()
}
