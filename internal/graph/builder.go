package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/cache"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/loader"
)

// Builder constructs module graphs for a configuration. A Builder may be
// reused for several builds.
type Builder struct {
	cfg      *config.Config
	resolver *Resolver
	store    *cache.Store
	chains   []loader.Chain
	// modules converts ES modules that no rule transforms
	modules loader.Chain
}

// NewBuilder prepares the loader chain of every rule. store may be nil to
// disable caching.
func NewBuilder(cfg *config.Config, registry *loader.Registry, store *cache.Store) (*Builder, error) {
	chains := make([]loader.Chain, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		chain, err := registry.Chain(rule.Use)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		chains[i] = chain
	}

	modules, err := registry.Chain([]config.LoaderSpec{{Name: "esbuild", Options: map[string]any{"target": "esnext"}}})
	if err != nil {
		return nil, fmt.Errorf("module conversion: %w", err)
	}

	return &Builder{
		cfg:      cfg,
		resolver: NewResolver(cfg),
		store:    store,
		chains:   chains,
		modules:  modules,
	}, nil
}

type result struct {
	module *Module
	err    error
}

// Build resolves the configured entries and transforms every reachable
// module on a pool of workers. The first failure stops new work from being
// dispatched; Build returns once in-flight transforms have drained.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	start := time.Now()
	g := New()

	var queue []string
	seen := map[string]bool{}
	for _, entry := range b.cfg.Entry {
		p, err := b.resolver.Resolve(b.cfg.Context, entry.Path)
		if err != nil {
			return nil, &ResolutionError{Request: entry.Path, Err: err}
		}
		g.Entries = append(g.Entries, Entry{Name: entry.Name, ID: b.cfg.Rel(p)})
		if !seen[p] {
			seen[p] = true
			queue = append(queue, p)
		}
	}

	workers := b.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}

	work := make(chan string)
	results := make(chan result)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				m, err := b.load(ctx, p)
				results <- result{module: m, err: err}
			}
		}()
	}

	var firstErr error
	inFlight := 0
	for len(queue) > 0 || inFlight > 0 {
		// a nil channel disables the send case once dispatch has stopped
		var send chan<- string
		var next string
		if firstErr == nil && len(queue) > 0 {
			send = work
			next = queue[0]
		}

		select {
		case send <- next:
			queue = queue[1:]
			inFlight++
		case res := <-results:
			inFlight--
			if res.err != nil {
				if firstErr == nil {
					firstErr = res.err
					log.Debug().Err(res.err).Int("in_flight", inFlight).Msg("stopping module dispatch")
				}
				break
			}
			g.Modules[res.module.ID] = res.module
			for _, ref := range res.module.Refs {
				if !seen[ref.Path] {
					seen[ref.Path] = true
					queue = append(queue, ref.Path)
				}
			}
		}

		if firstErr != nil && inFlight == 0 {
			break
		}
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	log.Debug().
		Int("modules", g.Len()).
		Dur("duration", time.Since(start)).
		Msg("module graph built")

	return g, nil
}

// load reads, transforms and scans a single module.
func (b *Builder) load(ctx context.Context, p string) (*Module, error) {
	id := b.cfg.Rel(p)

	source, err := os.ReadFile(p)
	if err != nil {
		return nil, &TransformError{Module: id, Err: err}
	}

	m := &Module{ID: id, Path: p, Source: source, Rule: b.cfg.MatchRule(id)}

	var chain loader.Chain
	if m.Rule >= 0 {
		rule := b.cfg.Rules[m.Rule]
		chain = b.chains[m.Rule]
		m.Kind, m.Type = kindOf(rule.Type, p)
	} else {
		switch strings.ToLower(filepath.Ext(p)) {
		case ".js", ".mjs", ".cjs":
			m.Kind = KindScript
			if hasModuleSyntax(source) {
				chain = b.modules
			}
		default:
			return nil, &TransformError{Module: id, Err: ErrNoMatchingRule}
		}
	}

	m.Output, err = b.transform(ctx, chain, m)
	if err != nil {
		return nil, err
	}
	m.Hash = fmt.Sprintf("%016x", crc64nvme.Checksum(m.Output))

	var refs []found
	switch m.Kind {
	case KindScript:
		refs = scanScript(m.Output)
	case KindStyle:
		refs = scanStyle(m.Output)
	}

	dir := filepath.Dir(p)
	for _, f := range refs {
		req, suffix := splitRequest(f.request)
		resolved, err := b.resolver.Resolve(dir, req)
		if err != nil {
			return nil, &ResolutionError{Request: f.request, Importer: id, Err: err}
		}
		m.Refs = append(m.Refs, Ref{
			Request: f.request,
			Suffix:  suffix,
			Kind:    f.kind,
			ID:      b.cfg.Rel(resolved),
			Path:    resolved,
			Start:   f.start,
			End:     f.end,
		})
	}

	return m, nil
}

func (b *Builder) transform(ctx context.Context, chain loader.Chain, m *Module) ([]byte, error) {
	if chain.Len() == 0 {
		return m.Source, nil
	}

	key := cache.Key(chain.Fingerprint(), []byte(m.ID), m.Source)
	if out, ok := b.store.Get(key); ok {
		return out, nil
	}

	out, err := chain.Transform(ctx, loader.Source{Path: m.Path, Code: m.Source})
	if err != nil {
		te := &TransformError{Module: m.ID, Err: err}
		var step *loader.StepError
		if errors.As(err, &step) {
			te.Loader = step.Loader
			te.Err = step.Err
		}
		return nil, te
	}

	if err := b.store.Put(key, out.Code); err != nil {
		log.Warn().Err(err).Str("module", m.ID).Msg("failed to cache transform output")
	}
	return out.Code, nil
}

// kindOf maps a rule type to a module kind, inferring from the extension
// when the rule does not say.
func kindOf(t config.RuleType, p string) (Kind, config.RuleType) {
	switch {
	case t.IsAsset():
		return KindAsset, t
	case t == config.RuleTypeCSS:
		return KindStyle, t
	case t == config.RuleTypeJavaScript:
		return KindScript, t
	}
	if strings.EqualFold(filepath.Ext(p), ".css") {
		return KindStyle, config.RuleTypeCSS
	}
	return KindScript, config.RuleTypeJavaScript
}
