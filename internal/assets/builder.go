package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/assetpipe/internal/cache"
	"github.com/wolfeidau/assetpipe/internal/chunk"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/graph"
	"github.com/wolfeidau/assetpipe/internal/hooks"
	"github.com/wolfeidau/assetpipe/internal/plugins"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
)

// Stage names used in logs, spans and metrics.
const (
	StageGraph     = "graph"
	StagePartition = "partition"
	StageEmit      = "emit"
	StageCommit    = "commit"
)

// Build runs every stage and writes the output. Nothing is written unless
// all stages and plugin hooks succeed.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	res := &Result{ID: uuid.NewString()}
	metrics := telemetry.GetMetrics()
	metrics.BuildsTotal.Add(ctx, 1)

	ctx, span := telemetry.Tracer().Start(ctx, "assetpipe.build", trace.WithAttributes(
		attribute.String("build.id", res.ID),
		attribute.String("build.mode", string(p.cfg.Mode)),
	))
	defer span.End()

	logger := log.With().Str("build", res.ID).Logger()
	ctx = logger.WithContext(ctx)

	entries := make([]string, 0, len(p.cfg.Entry))
	for _, e := range p.cfg.Entry {
		entries = append(entries, e.Path)
	}
	logger.Info().Strs("entrypoints", entries).Str("output", p.cfg.Output.Path).Msg("Building assets")

	store, err := p.openCache()
	if err != nil {
		return nil, p.fail(ctx, span, StageGraph, err)
	}
	defer store.Close()

	enabled, err := plugins.FromConfig(p.cfg)
	if err != nil {
		return nil, p.fail(ctx, span, StageGraph, err)
	}
	defer closePlugins(enabled)
	bus := hooks.NewBus(append(enabled, p.extra...)...)

	var g *graph.Graph
	err = p.stage(ctx, StageGraph, func(ctx context.Context) error {
		b, err := graph.NewBuilder(p.cfg, p.registry, store)
		if err != nil {
			return err
		}
		if g, err = b.Build(ctx); err != nil {
			return err
		}
		return bus.GraphBuilt(ctx, g)
	})
	if err != nil {
		return nil, p.fail(ctx, span, StageGraph, err)
	}

	var set *chunk.Set
	err = p.stage(ctx, StagePartition, func(ctx context.Context) error {
		var err error
		if set, err = chunk.Partition(p.cfg, g); err != nil {
			return err
		}
		return bus.ChunkOptimized(ctx, set)
	})
	if err != nil {
		return nil, p.fail(ctx, span, StagePartition, err)
	}

	emitter := emit.New(p.cfg)
	var out *emit.Assets
	var manifest *emit.Manifest
	err = p.stage(ctx, StageEmit, func(ctx context.Context) error {
		var err error
		if out, err = emitter.Render(g, set); err != nil {
			return err
		}
		if err := bus.AssetEmitted(ctx, out); err != nil {
			return err
		}
		manifest, err = emitter.Finalize(set, out)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, span, StageEmit, err)
	}

	err = p.stage(ctx, StageCommit, func(context.Context) error {
		return emitter.Commit(out)
	})
	if err != nil {
		return nil, p.fail(ctx, span, StageCommit, err)
	}

	p.manifest = manifest

	res.Manifest = manifest
	res.Modules = g.Len()
	res.Chunks = len(set.Chunks)
	res.Assets = out.Len()
	res.Bytes = out.Size()
	res.Duration = time.Since(started)

	cacheStats := store.Stats()
	metrics.RecordBuild(ctx, telemetry.BuildStats{
		Modules:     res.Modules,
		Chunks:      res.Chunks,
		Assets:      res.Assets,
		Bytes:       res.Bytes,
		CacheHits:   cacheStats.Hits,
		CacheMisses: cacheStats.Misses,
	}, res.Duration)

	span.SetAttributes(
		attribute.Int("build.modules", res.Modules),
		attribute.Int("build.chunks", res.Chunks),
		attribute.Int("build.assets", res.Assets),
	)

	logger.Info().
		Str("hash", manifest.Build).
		Int("modules", res.Modules).
		Int("chunks", res.Chunks).
		Int("assets", res.Assets).
		Int64("bytes", res.Bytes).
		Int64("cache_hits", cacheStats.Hits).
		Dur("duration", res.Duration).
		Msg("Build complete")

	return res, nil
}

func (p *Pipeline) openCache() (*cache.Store, error) {
	if !p.cfg.Cache.Enabled {
		return nil, nil
	}
	return cache.New(cache.Config{
		Directory:     p.cfg.Cache.Directory,
		Compression:   p.cfg.Cache.Compression,
		MemoryEntries: p.cfg.Cache.MemoryEntries,
	})
}

// stage runs fn in its own span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "assetpipe."+name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)

	telemetry.GetMetrics().RecordStage(ctx, name, elapsed)
	zerolog.Ctx(ctx).Debug().Str("stage", name).Dur("duration", elapsed).Msg("Stage complete")

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, stage string, err error) error {
	metrics := telemetry.GetMetrics()
	metrics.RecordFailure(ctx, stage)

	var pluginErr *hooks.PluginError
	if errors.As(err, &pluginErr) {
		metrics.RecordPluginError(ctx, pluginErr.Plugin, string(pluginErr.Hook))
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	zerolog.Ctx(ctx).Error().Err(err).Str("stage", stage).Msg("Build failed")
	return fmt.Errorf("%s: %w", stage, err)
}

func closePlugins(enabled []hooks.Plugin) {
	for _, pl := range enabled {
		if c, ok := pl.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Str("plugin", pl.Name()).Msg("Failed to close plugin")
			}
		}
	}
}

// LoadManifest reads the manifest of a previous build so LoadScripts works
// without building in this process.
func (p *Pipeline) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var manifest emit.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	p.mu.Lock()
	p.manifest = &manifest
	p.mu.Unlock()
	return nil
}

// LoadScripts returns the ordered list of script URLs needed for the given
// entry, given by name or by the module ID of its root, and the URL of the
// entry's own script. The entry script comes last since it runs once loaded.
func (p *Pipeline) LoadScripts(entry string) ([]string, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.manifest == nil {
		return nil, "", errors.New("assets not built yet, call Build() first")
	}

	if files, ok := p.manifest.Entrypoints[entry]; ok {
		scripts := []string{}
		for _, name := range files {
			if path.Ext(name) == ".js" {
				scripts = append(scripts, p.url(name))
			}
		}
		if len(scripts) == 0 {
			return nil, "", fmt.Errorf("entrypoint %s has no scripts", entry)
		}
		return scripts, scripts[len(scripts)-1], nil
	}

	for outputPath, info := range p.manifest.Outputs {
		if info.EntryPoint == "" || info.EntryPoint != entry {
			continue
		}
		scripts := []string{}
		visited := map[string]bool{outputPath: true}
		p.addDependencies(info, &scripts, visited)

		entrypoint := p.url(outputPath)
		scripts = append(scripts, entrypoint)
		return scripts, entrypoint, nil
	}

	return nil, "", errors.New("entrypoint not found in metadata")
}

func (p *Pipeline) addDependencies(output emit.OutputInfo, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		if !visited[imp.Path] {
			visited[imp.Path] = true

			if chunkInfo, exists := p.manifest.Outputs[imp.Path]; exists {
				p.addDependencies(chunkInfo, scripts, visited)
			}

			*scripts = append(*scripts, p.url(imp.Path))
		}
	}
}

// styles returns the stylesheet URLs of a named entry.
func (p *Pipeline) styles(entry string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	if p.manifest == nil {
		return out
	}
	for _, name := range p.manifest.Entrypoints[entry] {
		if path.Ext(name) == ".css" {
			out = append(out, p.url(name))
		}
	}
	return out
}

func (p *Pipeline) url(name string) string {
	return p.cfg.Output.PublicPath + name
}

// Handler returns an http.HandlerFunc that renders the given template and entrypoint with its scripts
func (p *Pipeline) Handler(templateName, title, entry string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if p.tmpl == nil {
		return nil, errors.New("template not loaded, use NewWithTemplate")
	}

	return func(w http.ResponseWriter, r *http.Request) {
		scripts, _, err := p.LoadScripts(entry)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if contextFn == nil {
			contextFn = func(ctx context.Context) any {
				return nil
			}
		}

		data := map[string]any{
			"Title":   title,
			"Scripts": scripts,
			"Styles":  p.styles(entry),
			"Context": contextFn(r.Context()),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", cond(p.cfg.Mode == config.ModeDevelopment, "no-store", "no-cache"))
		if err := p.tmpl.ExecuteTemplate(w, templateName, data); err != nil {
			log.Error().Err(err).Msg("Failed to render template")
		}
	}, nil
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
