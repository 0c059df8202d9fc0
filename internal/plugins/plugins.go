// Package plugins holds the built-in build plugins. Each one is enabled by
// its section of the configuration and runs on the hook bus.
package plugins

import (
	"errors"
	"io"
	"path/filepath"

	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/hooks"
)

var (
	// ErrInvalidOptions indicates a plugin section holds an unusable value
	ErrInvalidOptions = errors.New("invalid plugin options")
	// ErrLintFailed indicates linting reported at least one error
	ErrLintFailed = errors.New("lint failed")
)

// FromConfig creates the enabled plugins in their fixed order: lint, html,
// preload, service worker, compress. Plugins that hold resources implement
// io.Closer.
func FromConfig(cfg *config.Config) ([]hooks.Plugin, error) {
	var out []hooks.Plugin

	add := func(p hooks.Plugin, err error) error {
		if err != nil {
			closeAll(out)
			return err
		}
		out = append(out, p)
		return nil
	}

	if opts := cfg.Plugins.Lint; opts != nil {
		if err := add(NewLint(cfg, *opts)); err != nil {
			return nil, err
		}
	}
	if opts := cfg.Plugins.HTML; opts != nil {
		if err := add(NewHTML(cfg, *opts)); err != nil {
			return nil, err
		}
	}
	if opts := cfg.Plugins.Preload; opts != nil {
		if err := add(NewPreload(*opts)); err != nil {
			return nil, err
		}
	}
	if opts := cfg.Plugins.ServiceWorker; opts != nil {
		if err := add(NewServiceWorker(cfg, *opts)); err != nil {
			return nil, err
		}
	}
	if opts := cfg.Plugins.Compress; opts != nil {
		if err := add(NewCompress(*opts)); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func closeAll(plugins []hooks.Plugin) {
	for _, p := range plugins {
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// contextPath resolves a plugin path option against the context root.
func contextPath(cfg *config.Config, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cfg.Context, path)
}
