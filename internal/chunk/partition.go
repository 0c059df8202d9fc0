package chunk

import (
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/graph"
)

// groupState tracks a chunk group while the graph is walked.
type groupState struct {
	*Group
	parents map[string]bool
	lazy    []string
}

// owner collects the modules destined for one group's own chunks or for one
// shared chunk.
type owner struct {
	name    string
	groups  []*groupState
	modules []string
}

type partitioner struct {
	cfg    *config.Config
	g      *graph.Graph
	groups []*groupState
	async  map[string]*groupState
	// order is the global post-order position of each module
	order map[string]int
	reach map[string][]*groupState
}

// Partition assigns every module of g to chunks. The result depends only on
// the graph and configuration, so identical inputs give identical sets.
func Partition(cfg *config.Config, g *graph.Graph) (*Set, error) {
	p := &partitioner{
		cfg:   cfg,
		g:     g,
		async: map[string]*groupState{},
		order: map[string]int{},
		reach: map[string][]*groupState{},
	}

	if err := p.discover(); err != nil {
		return nil, err
	}
	p.propagateParents()
	p.nameAsync()

	owners, err := p.assign()
	if err != nil {
		return nil, err
	}

	set := p.build(owners)
	if err := checkNames(set); err != nil {
		return nil, err
	}

	log.Debug().
		Int("chunks", len(set.Chunks)).
		Int("groups", len(set.Groups)).
		Msg("chunk graph partitioned")

	return set, nil
}

// discover walks every group breadth first, creating async groups as lazy
// imports are found.
func (p *partitioner) discover() error {
	for _, entry := range p.g.Entries {
		if err := p.checkRoot(entry.Name, entry.ID); err != nil {
			return err
		}
		gs := &groupState{
			Group:   &Group{Name: entry.Name, Root: entry.ID},
			parents: map[string]bool{entry.Name: true},
		}
		p.groups = append(p.groups, gs)
	}

	for i := 0; i < len(p.groups); i++ {
		gs := p.groups[i]
		p.walk(gs, gs.Root, map[string]bool{})

		for _, target := range gs.lazy {
			if _, ok := p.async[target]; ok {
				continue
			}
			if err := p.checkRoot("", target); err != nil {
				return err
			}
			next := &groupState{
				Group:   &Group{Async: true, Root: target},
				parents: map[string]bool{},
			}
			p.async[target] = next
			p.groups = append(p.groups, next)
		}
	}
	return nil
}

func (p *partitioner) checkRoot(chunk, id string) error {
	m, ok := p.g.Module(id)
	if !ok {
		return &PartitionError{Chunk: chunk, Module: id, Err: ErrUnassigned}
	}
	if m.Kind != graph.KindScript {
		return &PartitionError{Chunk: chunk, Module: id, Err: ErrEntryNotScript}
	}
	return nil
}

// walk visits the static closure of id in post-order. A module already on
// the visited set is not entered again, so the first visit of a cycle owns it.
func (p *partitioner) walk(gs *groupState, id string, visited map[string]bool) {
	if visited[id] {
		return
	}
	visited[id] = true

	m, ok := p.g.Module(id)
	if !ok {
		return
	}

	for _, dep := range m.Dependencies(graph.RefStatic, graph.RefURL) {
		p.walk(gs, dep, visited)
	}
	for _, target := range m.Dependencies(graph.RefLazy) {
		gs.lazy = append(gs.lazy, target)
	}

	p.reach[id] = append(p.reach[id], gs)
	if _, ok := p.order[id]; !ok {
		p.order[id] = len(p.order)
	}
}

// propagateParents records which entries can reach each async group,
// iterating until nested lazy imports settle.
func (p *partitioner) propagateParents() {
	for changed := true; changed; {
		changed = false
		for _, gs := range p.groups {
			for _, target := range gs.lazy {
				child := p.async[target]
				for name := range gs.parents {
					if !child.parents[name] {
						child.parents[name] = true
						changed = true
					}
				}
			}
		}
	}

	for _, gs := range p.groups {
		gs.Entries = p.entryOrder(gs.parents)
	}
}

// nameAsync names async groups after their root file, falling back to the
// module path when the file name is ambiguous.
func (p *partitioner) nameAsync() {
	taken := map[string]bool{}
	counts := map[string]int{}
	for _, gs := range p.groups {
		if gs.Async {
			counts[stem(gs.Root)]++
		} else {
			taken[gs.Name] = true
		}
	}

	for _, gs := range p.groups {
		if !gs.Async {
			continue
		}
		name := stem(gs.Root)
		if counts[name] > 1 || taken[name] {
			name = strings.ReplaceAll(strings.TrimSuffix(gs.Root, path.Ext(gs.Root)), "/", "-")
		}
		gs.Name = name
	}
}

func stem(id string) string {
	base := path.Base(id)
	return strings.TrimSuffix(base, path.Ext(base))
}

// assign decides the owner of every module. Async groups whose parent entries
// all reach a module get it from their parents. A module left with a single
// group belongs to that group; modules left with several groups form a
// shared chunk when the candidate reaches the minimum size, and are otherwise
// duplicated into each group.
func (p *partitioner) assign() ([]*owner, error) {
	own := map[*groupState]*owner{}
	for _, gs := range p.groups {
		own[gs] = &owner{name: gs.Name, groups: []*groupState{gs}}
	}
	shared := map[string]*owner{}

	for _, id := range p.g.IDs() {
		groups := p.reach[id]
		if len(groups) == 0 {
			return nil, &PartitionError{Module: id, Err: ErrUnassigned}
		}

		// an async group whose parents all reach the module gets it from them,
		// and at least one of those parents stays in effective
		var effective []*groupState
		for _, gs := range groups {
			if gs.Async && covered(gs, groups) {
				continue
			}
			effective = append(effective, gs)
		}

		if len(effective) == 1 {
			o := own[effective[0]]
			o.modules = append(o.modules, id)
			continue
		}

		names := make([]string, len(effective))
		for i, gs := range effective {
			names[i] = gs.Name
		}
		key := strings.Join(names, "~")
		o, ok := shared[key]
		if !ok {
			o = &owner{name: key, groups: effective}
			shared[key] = o
		}
		o.modules = append(o.modules, id)
	}

	keys := make([]string, 0, len(shared))
	for key := range shared {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var owners []*owner
	for _, gs := range p.groups {
		owners = append(owners, own[gs])
	}
	for _, key := range keys {
		o := shared[key]
		if p.size(o.modules) >= p.cfg.Optimization.SplitChunks.MinSize {
			owners = append(owners, o)
			continue
		}
		log.Debug().Str("chunk", key).Msg("shared chunk below minimum size, duplicating modules")
		for _, gs := range o.groups {
			own[gs].modules = append(own[gs].modules, o.modules...)
		}
	}

	for _, o := range owners {
		sort.SliceStable(o.modules, func(i, j int) bool {
			return p.order[o.modules[i]] < p.order[o.modules[j]]
		})
	}
	return owners, nil
}

// covered reports whether every parent entry of an async group also reaches
// the module directly.
func covered(gs *groupState, groups []*groupState) bool {
	if len(gs.parents) == 0 {
		return false
	}
	for name := range gs.parents {
		found := false
		for _, other := range groups {
			if !other.Async && other.Name == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p *partitioner) size(ids []string) int64 {
	var n int64
	for _, id := range ids {
		if m, ok := p.g.Module(id); ok {
			n += m.Size()
		}
	}
	return n
}

func (p *partitioner) split(ids []string) (scripts, styles []string) {
	for _, id := range ids {
		if m, ok := p.g.Module(id); ok && m.Kind == graph.KindStyle {
			styles = append(styles, id)
			continue
		}
		scripts = append(scripts, id)
	}
	return scripts, styles
}

// build creates chunks in emission order and the load order of each group.
func (p *partitioner) build(owners []*owner) *Set {
	out := p.cfg.Output
	set := &Set{}

	type made struct {
		script *Chunk
		style  *Chunk
	}
	chunks := map[*owner]*made{}
	own := map[*groupState]*owner{}
	var styleChunks []*Chunk

	newChunk := func(o *owner, kind Kind, modules []string) *Chunk {
		c := &Chunk{Name: o.name, Kind: kind, Modules: modules, Meta: map[string]any{}}
		parents := map[string]bool{}
		for _, gs := range o.groups {
			for name := range gs.parents {
				parents[name] = true
			}
			if !gs.Async {
				c.Initial = true
			}
		}
		c.Entries = p.entryOrder(parents)
		return c
	}

	// entry chunks always exist so the entry module has somewhere to start
	var entries, sharedList, asyncList []*owner
	for _, o := range owners {
		if len(o.groups) == 1 {
			own[o.groups[0]] = o
		}
		switch {
		case len(o.groups) > 1:
			sharedList = append(sharedList, o)
		case o.groups[0].Async:
			asyncList = append(asyncList, o)
		default:
			entries = append(entries, o)
		}
	}

	for _, o := range entries {
		scripts, styles := p.split(o.modules)
		c := newChunk(o, KindEntry, scripts)
		c.Filename = out.Filename
		c.Start = o.groups[0].Root
		c.Runtime = p.cfg.Optimization.RuntimeChunk == config.RuntimeChunkOff
		set.Chunks = append(set.Chunks, c)
		m := &made{script: c}
		if len(styles) > 0 {
			m.style = newChunk(o, KindStyle, styles)
			m.style.Filename = out.CSSFilename
			styleChunks = append(styleChunks, m.style)
		}
		chunks[o] = m
	}

	runtimes := p.runtimeChunks()
	set.Chunks = append(set.Chunks, runtimes...)

	for _, list := range [][]*owner{sharedList, asyncList} {
		for _, o := range list {
			scripts, styles := p.split(o.modules)
			kind := KindAsync
			if len(o.groups) > 1 {
				kind = KindShared
			}
			m := &made{}
			if len(scripts) > 0 {
				m.script = newChunk(o, kind, scripts)
				m.script.Filename = out.ChunkFilename
				set.Chunks = append(set.Chunks, m.script)
			}
			if len(styles) > 0 {
				m.style = newChunk(o, KindStyle, styles)
				m.style.Filename = out.CSSChunkFilename
				styleChunks = append(styleChunks, m.style)
			}
			chunks[o] = m
		}
	}
	set.Chunks = append(set.Chunks, styleChunks...)

	for _, gs := range p.groups {
		g := gs.Group
		var scripts, styles []*Chunk
		if !g.Async {
			for _, rt := range runtimes {
				if contains(rt.Entries, g.Name) {
					scripts = append(scripts, rt)
				}
			}
		}
		for _, o := range sharedList {
			if !containsGroup(o.groups, gs) {
				continue
			}
			if m := chunks[o]; m != nil {
				scripts = appendChunk(scripts, m.script)
				styles = appendChunk(styles, m.style)
			}
		}
		if m := chunks[own[gs]]; m != nil {
			scripts = appendChunk(scripts, m.script)
			styles = appendChunk(styles, m.style)
		}
		g.Chunks = append(scripts, styles...)
		set.Groups = append(set.Groups, g)
	}

	return set
}

func (p *partitioner) runtimeChunks() []*Chunk {
	var out []*Chunk
	switch p.cfg.Optimization.RuntimeChunk {
	case config.RuntimeChunkSingle:
		var names []string
		for _, e := range p.g.Entries {
			names = append(names, e.Name)
		}
		out = append(out, &Chunk{
			Name:     "runtime",
			Kind:     KindRuntime,
			Entries:  names,
			Filename: p.cfg.Output.Filename,
			Initial:  true,
			Runtime:  true,
			Meta:     map[string]any{},
		})
	case config.RuntimeChunkMultiple:
		for _, e := range p.g.Entries {
			out = append(out, &Chunk{
				Name:     "runtime~" + e.Name,
				Kind:     KindRuntime,
				Entries:  []string{e.Name},
				Filename: p.cfg.Output.Filename,
				Initial:  true,
				Runtime:  true,
				Meta:     map[string]any{},
			})
		}
	}
	return out
}

// entryOrder lists entry names from set in configuration order.
func (p *partitioner) entryOrder(set map[string]bool) []string {
	var out []string
	for _, e := range p.g.Entries {
		if set[e.Name] {
			out = append(out, e.Name)
		}
	}
	return out
}

func checkNames(set *Set) error {
	scripts := map[string]bool{}
	styles := map[string]bool{}
	for _, c := range set.Chunks {
		seen := scripts
		if !c.Script() {
			seen = styles
		}
		if seen[c.Name] {
			return &PartitionError{Chunk: c.Name, Err: ErrNameCollision}
		}
		seen[c.Name] = true
	}
	return nil
}

func appendChunk(list []*Chunk, c *Chunk) []*Chunk {
	if c == nil {
		return list
	}
	return append(list, c)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsGroup(list []*groupState, gs *groupState) bool {
	for _, v := range list {
		if v == gs {
			return true
		}
	}
	return false
}
