// Package hooks lets plugins observe and adjust a build at three points: once
// the module graph is complete, once chunks are partitioned, and once assets
// are rendered but not yet written.
package hooks

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/chunk"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/graph"
)

type Hook string

const (
	HookGraphBuilt     Hook = "graph-built"
	HookChunkOptimized Hook = "chunk-optimized"
	HookAssetEmitted   Hook = "asset-emitted"
)

// Plugin receives the build at each hook. Returning an error aborts the build.
type Plugin interface {
	Name() string
	OnGraphBuilt(ctx context.Context, g *graph.Graph) error
	OnChunkOptimized(ctx context.Context, set *chunk.Set) error
	OnAssetEmitted(ctx context.Context, assets *emit.Assets) error
}

// Base implements every hook as a no-op so plugins only override what they
// use.
type Base struct{}

func (Base) OnGraphBuilt(context.Context, *graph.Graph) error   { return nil }
func (Base) OnChunkOptimized(context.Context, *chunk.Set) error { return nil }
func (Base) OnAssetEmitted(context.Context, *emit.Assets) error { return nil }

// PluginError reports the plugin and hook that failed a build.
type PluginError struct {
	Plugin string
	Hook   Hook
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s failed in %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Bus invokes registered plugins synchronously, in registration order. The
// first failure stops the remaining plugins for that hook.
type Bus struct {
	plugins []Plugin
}

func NewBus(plugins ...Plugin) *Bus {
	return &Bus{plugins: plugins}
}

func (b *Bus) Register(p Plugin) {
	b.plugins = append(b.plugins, p)
}

// Plugins returns the registered plugin names in invocation order.
func (b *Bus) Plugins() []string {
	names := make([]string, 0, len(b.plugins))
	for _, p := range b.plugins {
		names = append(names, p.Name())
	}
	return names
}

func (b *Bus) GraphBuilt(ctx context.Context, g *graph.Graph) error {
	return b.fire(ctx, HookGraphBuilt, func(p Plugin) error {
		return p.OnGraphBuilt(ctx, g)
	})
}

func (b *Bus) ChunkOptimized(ctx context.Context, set *chunk.Set) error {
	return b.fire(ctx, HookChunkOptimized, func(p Plugin) error {
		return p.OnChunkOptimized(ctx, set)
	})
}

func (b *Bus) AssetEmitted(ctx context.Context, assets *emit.Assets) error {
	return b.fire(ctx, HookAssetEmitted, func(p Plugin) error {
		return p.OnAssetEmitted(ctx, assets)
	})
}

func (b *Bus) fire(ctx context.Context, hook Hook, call func(Plugin) error) error {
	for _, p := range b.plugins {
		if err := ctx.Err(); err != nil {
			return &PluginError{Plugin: p.Name(), Hook: hook, Err: err}
		}

		start := time.Now()
		if err := invoke(p, call); err != nil {
			log.Error().Err(err).Str("plugin", p.Name()).Str("hook", string(hook)).Msg("Plugin failed")
			return &PluginError{Plugin: p.Name(), Hook: hook, Err: err}
		}
		log.Debug().
			Str("plugin", p.Name()).
			Str("hook", string(hook)).
			Dur("duration", time.Since(start)).
			Msg("Plugin hook complete")
	}
	return nil
}

func invoke(p Plugin, call func(Plugin) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("plugin", p.Name()).Bytes("stack", debug.Stack()).Msg("Plugin panic")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return call(p)
}
