package assets

import (
	"github.com/wolfeidau/assetpipe/internal/hooks"
	"github.com/wolfeidau/assetpipe/internal/loader"
)

// Option adjusts a Pipeline.
type Option func(*Pipeline)

// WithPlugins registers plugins after the ones enabled in the configuration.
func WithPlugins(plugins ...hooks.Plugin) Option {
	return func(p *Pipeline) {
		p.extra = append(p.extra, plugins...)
	}
}

// WithRegistry replaces the built-in loader registry.
func WithRegistry(registry *loader.Registry) Option {
	return func(p *Pipeline) {
		p.registry = registry
	}
}
