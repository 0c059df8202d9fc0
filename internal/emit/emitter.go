// Package emit renders a partitioned chunk graph into output artifacts,
// names them from filename templates with content hashes, and commits them
// to the output directory.
package emit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/chunk"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/graph"
	"github.com/wolfeidau/assetpipe/internal/loader"
)

// defaultInlineLimit applies to asset rules that set no dataUrlCondition.
const defaultInlineLimit = 8 * 1024

type Emitter struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Emitter {
	return &Emitter{cfg: cfg}
}

// render holds the state of one Render call.
type render struct {
	cfg    *config.Config
	g      *graph.Graph
	set    *chunk.Set
	assets *Assets
	// urls maps asset module IDs to the string their importers see
	urls map[string]string
}

// Render produces the assets for set. Asset modules and style chunks are
// rendered first, then script chunks without the runtime, and finally the
// chunks carrying the runtime, whose lazy chunk map embeds the names of the
// chunks rendered before them.
func (e *Emitter) Render(g *graph.Graph, set *chunk.Set) (*Assets, error) {
	r := &render{
		cfg:    e.cfg,
		g:      g,
		set:    set,
		assets: NewAssets(e.cfg.Output.PublicPath),
		urls:   map[string]string{},
	}

	if err := r.assetModules(); err != nil {
		return nil, err
	}

	var runtimes []*chunk.Chunk
	for _, c := range set.Chunks {
		if c.Runtime {
			runtimes = append(runtimes, c)
		}
	}

	for _, c := range set.Chunks {
		if !c.Script() {
			if err := r.emitChunk(c, r.style(c)); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range set.Chunks {
		if c.Script() && !c.Runtime {
			if err := r.emitChunk(c, r.script(c)); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range runtimes {
		code, err := r.runtime(c)
		if err != nil {
			return nil, err
		}
		if err := r.emitChunk(c, code); err != nil {
			return nil, err
		}
	}

	// assets follow chunk order whatever order they rendered in
	r.assets.sortBy(r.chunkRank())
	r.entrypoints()

	log.Debug().Int("assets", r.assets.Len()).Msg("assets rendered")
	return r.assets, nil
}

// chunkRank places chunk files in chunk order, each followed by its source
// map, and everything else last.
func (r *render) chunkRank() func(*Asset) int {
	pos := map[string]int{}
	for i, c := range r.set.Chunks {
		if name, ok := r.assets.ChunkFile(c); ok {
			pos[name] = 2 * i
			pos[name+".map"] = 2*i + 1
		}
	}
	last := 2 * len(r.set.Chunks)
	return func(a *Asset) int {
		if i, ok := pos[a.Name]; ok {
			return i
		}
		return last
	}
}

// assetModules emits asset/resource files and prepares the URL or inline
// value of every asset module.
func (r *render) assetModules() error {
	for _, id := range r.g.IDs() {
		m, _ := r.g.Module(id)
		if m.Kind != graph.KindAsset {
			continue
		}

		if r.inline(m) {
			r.urls[id] = dataURL(m)
			continue
		}

		tmpl := r.cfg.Output.AssetFilename
		if m.Rule >= 0 && r.cfg.Rules[m.Rule].Generator.Filename != "" {
			tmpl = r.cfg.Rules[m.Rule].Generator.Filename
		}
		name := Interpolate(tmpl, moduleData(id, m.Hash))
		if err := r.assets.Add(&Asset{
			Name:      name,
			Data:      m.Output,
			Hash:      m.Hash,
			Kind:      AssetMedia,
			Module:    id,
			Immutable: Hashed(tmpl),
		}); err != nil {
			return fmt.Errorf("emit module %s: %w", id, err)
		}
		r.urls[id] = r.assets.URL(name)
	}
	return nil
}

func (r *render) inline(m *graph.Module) bool {
	switch m.Type {
	case config.RuleTypeAssetInline, config.RuleTypeAssetSource:
		return true
	case config.RuleTypeAsset:
		limit := int64(defaultInlineLimit)
		if m.Rule >= 0 {
			if maxSize := r.cfg.Rules[m.Rule].Parser.DataURLCondition.MaxSize; maxSize > 0 {
				limit = maxSize
			}
		}
		return m.Size() < limit
	default:
		return false
	}
}

func dataURL(m *graph.Module) string {
	mt := mime.TypeByExtension(path.Ext(m.ID))
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(m.Output)
}

// style concatenates the style modules of c, dropping @import rules and
// pointing url() references at emitted assets.
func (r *render) style(c *chunk.Chunk) []byte {
	var buf bytes.Buffer
	for _, id := range c.Modules {
		m, _ := r.g.Module(id)
		buf.Write(rewrite(m.Output, m.Refs, func(ref graph.Ref) string {
			if ref.Kind != graph.RefURL {
				return ""
			}
			return quote(r.urls[ref.ID] + urlSuffix(r.urls[ref.ID], ref.Suffix))
		}))
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// urlSuffix keeps query strings and fragments on emitted URLs but not on
// data URLs, where they would corrupt the payload.
func urlSuffix(url, suffix string) string {
	if strings.HasPrefix(url, "data:") {
		return ""
	}
	return suffix
}

// script renders the module definitions of c followed by the entry start
// call.
func (r *render) script(c *chunk.Chunk) []byte {
	var buf bytes.Buffer
	r.modules(&buf, c)
	if c.Start != "" {
		fmt.Fprintf(&buf, "self.__assetpipe__.require(%s);\n", quote(c.Start))
	}
	return buf.Bytes()
}

func (r *render) modules(buf *bytes.Buffer, c *chunk.Chunk) {
	if len(c.Modules) == 0 {
		return
	}

	fmt.Fprintf(buf, "self.__assetpipe__.define(%s, {\n", quote(c.Name))
	defined := map[string]bool{}
	for _, id := range c.Modules {
		defined[id] = true
	}

	var stubs []string
	for _, id := range c.Modules {
		m, _ := r.g.Module(id)
		fmt.Fprintf(buf, "%s: function (module, exports, require) {\n", quote(id))
		buf.Write(r.moduleBody(m))
		buf.WriteString("\n},\n")

		for _, ref := range m.Refs {
			dep, ok := r.g.Module(ref.ID)
			if ok && dep.Kind == graph.KindStyle && !defined[ref.ID] {
				defined[ref.ID] = true
				stubs = append(stubs, ref.ID)
			}
		}
	}
	// styles are extracted into style chunks; requiring one is a no-op
	for _, id := range stubs {
		fmt.Fprintf(buf, "%s: function () {},\n", quote(id))
	}
	buf.WriteString("});\n")
}

func (r *render) moduleBody(m *graph.Module) []byte {
	switch m.Kind {
	case graph.KindAsset:
		if m.Type == config.RuleTypeAssetSource {
			return []byte("module.exports = " + quote(string(m.Output)) + ";")
		}
		return []byte("module.exports = " + quote(r.urls[m.ID]) + ";")
	case graph.KindStyle:
		return nil
	}

	return rewrite(m.Output, m.Refs, func(ref graph.Ref) string {
		switch ref.Kind {
		case graph.RefLazy:
			return "self.__assetpipe__.load(" + quote(ref.ID) + ")"
		case graph.RefURL:
			return quote(r.urls[ref.ID])
		default:
			return quote(ref.ID)
		}
	})
}

// runtime renders a runtime bearing chunk: the registry, the lazy map for the
// async groups its entries can reach, then any modules the chunk holds.
func (r *render) runtime(c *chunk.Chunk) ([]byte, error) {
	lazy := map[string][][2]string{}
	for _, g := range r.set.Async() {
		if !overlaps(g.Entries, c.Entries) {
			continue
		}
		files := [][2]string{}
		for _, gc := range g.Chunks {
			name, ok := r.assets.ChunkFile(gc)
			if !ok {
				return nil, fmt.Errorf("emit chunk %s: async chunk %s not rendered", c.Name, gc.Name)
			}
			files = append(files, [2]string{chunkKey(gc), name})
		}
		lazy[g.Root] = files
	}

	lazyJSON, err := json.Marshal(lazy)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, runtimeSource, quote(r.cfg.Output.PublicPath), lazyJSON)
	buf.Write(r.script(c))
	return buf.Bytes(), nil
}

// emitChunk optionally minifies code, names it from the chunk template and
// adds it with its source map.
func (r *render) emitChunk(c *chunk.Chunk, code []byte) error {
	ext := ".js"
	kind := AssetScript
	if !c.Script() {
		ext = ".css"
		kind = AssetStyle
	}

	var sourceMap []byte
	if r.cfg.Optimization.Minimize {
		var err error
		code, sourceMap, err = loader.Minify(code, !c.Script(), c.Name+ext, r.cfg.SourceMaps())
		if err != nil {
			return fmt.Errorf("emit chunk %s: minify: %w", c.Name, err)
		}
	}

	// the name hashes the code without its source map trailer
	hash := ContentHash(code)
	name := Interpolate(c.Filename, PathData{Name: c.Name, ID: c.Name, ContentHash: hash, Ext: ext})

	if len(sourceMap) > 0 {
		mapName := name + ".map"
		if c.Script() {
			code = append(code, "//# sourceMappingURL="+path.Base(mapName)+"\n"...)
		} else {
			code = append(code, "/*# sourceMappingURL="+path.Base(mapName)+" */\n"...)
		}
		if err := r.assets.Add(&Asset{
			Name:      mapName,
			Data:      sourceMap,
			Kind:      AssetSourceMap,
			Chunk:     c.Name,
			Immutable: Hashed(c.Filename),
		}); err != nil {
			return fmt.Errorf("emit chunk %s: %w", c.Name, err)
		}
	}

	if err := r.assets.Add(&Asset{
		Name:      name,
		Data:      code,
		Kind:      kind,
		Chunk:     c.Name,
		Immutable: Hashed(c.Filename),
	}); err != nil {
		return fmt.Errorf("emit chunk %s: %w", c.Name, err)
	}
	r.assets.setChunkFile(c, name)
	return nil
}

func (r *render) entrypoints() {
	for _, g := range r.set.Groups {
		if g.Async {
			continue
		}
		ep := &Entrypoint{}
		for _, c := range g.Chunks {
			name, ok := r.assets.ChunkFile(c)
			if !ok {
				continue
			}
			if c.Script() {
				ep.Scripts = append(ep.Scripts, name)
			} else {
				ep.Styles = append(ep.Styles, name)
			}
		}
		r.assets.Entrypoints[g.Name] = ep
	}
}

// rewrite replaces each reference span with the text returned by fn. Spans
// are sorted and disjoint.
func rewrite(code []byte, refs []graph.Ref, fn func(graph.Ref) string) []byte {
	if len(refs) == 0 {
		return code
	}
	sorted := append([]graph.Ref(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var buf bytes.Buffer
	last := 0
	for _, ref := range sorted {
		if ref.Start < last || ref.End > len(code) {
			continue
		}
		buf.Write(code[last:ref.Start])
		buf.WriteString(fn(ref))
		last = ref.End
	}
	buf.Write(code[last:])
	return buf.Bytes()
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
