package plugins

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wolfeidau/assetpipe/internal/chunk"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/hooks"
)

// PreloadMeta is the chunk Meta key holding the link rel chosen for a chunk.
const PreloadMeta = "preload"

// Preload marks chunks for preloading once they are partitioned and adds
// matching link tags to every emitted page.
type Preload struct {
	hooks.Base

	rel     string
	as      string
	include config.PreloadInclude

	marked []*chunk.Chunk
}

func NewPreload(opts config.PreloadOptions) (*Preload, error) {
	p := &Preload{rel: opts.Rel, as: opts.As, include: opts.Include}
	if p.rel == "" {
		p.rel = "preload"
	}
	if p.rel != "preload" && p.rel != "prefetch" {
		return nil, fmt.Errorf("%w: preload rel must be preload or prefetch, got %q", ErrInvalidOptions, p.rel)
	}
	switch p.include {
	case "":
		p.include = config.PreloadAsyncChunks
	case config.PreloadInitial, config.PreloadAsyncChunks, config.PreloadAllChunks:
	default:
		return nil, fmt.Errorf("%w: preload include must be initial, asyncChunks or allChunks, got %q", ErrInvalidOptions, p.include)
	}
	return p, nil
}

func (p *Preload) Name() string { return "preload" }

func (p *Preload) OnChunkOptimized(_ context.Context, set *chunk.Set) error {
	p.marked = nil
	for _, c := range set.Chunks {
		if !p.includes(c) {
			continue
		}
		c.Meta[PreloadMeta] = p.rel
		p.marked = append(p.marked, c)
	}
	return nil
}

func (p *Preload) includes(c *chunk.Chunk) bool {
	switch p.include {
	case config.PreloadInitial:
		return c.Initial
	case config.PreloadAsyncChunks:
		return !c.Initial
	default:
		return true
	}
}

func (p *Preload) OnAssetEmitted(_ context.Context, assets *emit.Assets) error {
	var links []*html.Node
	for _, c := range p.marked {
		file, ok := assets.ChunkFile(c)
		if !ok {
			continue
		}
		rel, _ := c.Meta[PreloadMeta].(string)
		if rel == "" {
			continue
		}
		links = append(links, element(atom.Link, "href", assets.URL(file), "rel", rel, "as", p.asFor(file)))
	}
	if len(links) == 0 {
		return nil
	}

	var pages int
	for _, a := range assets.All() {
		if a.Kind != emit.AssetHTML {
			continue
		}
		nodes := make([]*html.Node, 0, len(links))
		for _, l := range links {
			nodes = append(nodes, clone(l))
		}
		out, err := injectHead(a.Data, nodes)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		if err := assets.Update(a.Name, out); err != nil {
			return err
		}
		pages++
	}

	log.Debug().Int("links", len(links)).Int("pages", pages).Msg("Preload links injected")
	return nil
}

func (p *Preload) asFor(file string) string {
	switch path.Ext(file) {
	case ".css":
		return "style"
	case ".woff", ".woff2", ".ttf":
		return "font"
	}
	if p.as != "" {
		return p.as
	}
	return "script"
}

func clone(n *html.Node) *html.Node {
	return &html.Node{
		Type:     n.Type,
		DataAtom: n.DataAtom,
		Data:     n.Data,
		Attr:     append([]html.Attribute(nil), n.Attr...),
	}
}
