// Package loader implements the per-module source transformations applied by
// build rules. Loaders are pure functions of their input source and options,
// so the graph builder may run them concurrently and cache their output.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wolfeidau/assetpipe/internal/config"
)

var (
	// ErrUnknownLoader indicates a rule names a loader that is not registered
	ErrUnknownLoader = errors.New("unknown loader")
	// ErrInvalidOptions indicates loader options have the wrong shape
	ErrInvalidOptions = errors.New("invalid loader options")
)

// Source is a module's code as it flows through a loader chain.
type Source struct {
	// Path is the absolute path of the module, used for diagnostics and syntax selection
	Path string
	Code []byte
}

type Loader interface {
	Name() string
	Transform(ctx context.Context, src Source) (Source, error)
}

// Factory builds a loader from rule options.
type Factory func(options map[string]any) (Loader, error)

// StepError identifies the loader that failed within a chain.
type StepError struct {
	Loader string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("loader %s: %v", e.Loader, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in loaders.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("esbuild", newESBuild)
	r.Register("css", newCSS)
	r.Register("text", newText)
	r.Register("json", newJSON)
	r.Register("replace", newReplace)
	return r
}

// Register adds or replaces a loader factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names lists the registered loaders in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain builds the loaders named by specs, in order.
func (r *Registry) Chain(specs []config.LoaderSpec) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := Chain{specs: specs}
	for _, spec := range specs {
		factory, ok := r.factories[spec.Name]
		if !ok {
			return Chain{}, fmt.Errorf("%w: %q", ErrUnknownLoader, spec.Name)
		}
		l, err := factory(spec.Options)
		if err != nil {
			return Chain{}, fmt.Errorf("loader %s: %w", spec.Name, err)
		}
		chain.loaders = append(chain.loaders, l)
	}
	return chain, nil
}

// Chain applies loaders in declaration order, each receiving the previous
// loader's output.
type Chain struct {
	specs   []config.LoaderSpec
	loaders []Loader
}

func (c Chain) Len() int {
	return len(c.loaders)
}

// Transform runs the chain. A failing step is reported as *StepError.
func (c Chain) Transform(ctx context.Context, src Source) (Source, error) {
	out := src
	for _, l := range c.loaders {
		next, err := l.Transform(ctx, out)
		if err != nil {
			return Source{}, &StepError{Loader: l.Name(), Err: err}
		}
		out = next
	}
	return out, nil
}

// Fingerprint identifies the chain and its options for cache keys.
func (c Chain) Fingerprint() []byte {
	// encoding/json sorts map keys, so identical options encode identically
	data, err := json.Marshal(c.specs)
	if err != nil {
		return []byte(fmt.Sprintf("%v", c.specs))
	}
	return data
}

func stringOption(options map[string]any, key, def string) (string, error) {
	v, ok := options[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidOptions, key)
	}
	return s, nil
}

func stringsOption(options map[string]any, key string) ([]string, error) {
	v, ok := options[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidOptions, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidOptions, key)
	}
}
