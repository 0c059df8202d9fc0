// Package graph builds the module graph: entries are resolved, every
// reachable module is read and run through the loader chain of the first
// matching rule, and the references found in the transformed output become
// edges.
package graph

import (
	"sort"

	"github.com/wolfeidau/assetpipe/internal/config"
)

// Kind is the output type of a module.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindAsset  Kind = "asset"
)

// RefKind classifies a reference between modules.
type RefKind string

const (
	// RefStatic is a require, ES import or CSS @import
	RefStatic RefKind = "static"
	// RefLazy is a dynamic import() that starts a new async chunk
	RefLazy RefKind = "lazy"
	// RefURL is a CSS url() pointing at an asset
	RefURL RefKind = "url"
)

// Ref is a reference found in a module's transformed output. Start and End
// delimit the bytes the emitter rewrites when linking.
type Ref struct {
	Request string
	// Suffix holds any query or fragment stripped from Request before resolution
	Suffix string
	Kind   RefKind
	// ID of the resolved module
	ID string
	// Path is the resolved absolute path
	Path  string
	Start int
	End   int
}

// Module is a single source file after transformation. Modules are created
// by the builder and not modified afterwards.
type Module struct {
	// ID is the slash separated path relative to the context root
	ID   string
	Path string
	Kind Kind
	// Type is the asset handling for KindAsset modules
	Type config.RuleType
	// Rule is the index of the matched rule, -1 when the kind was inferred
	Rule   int
	Source []byte
	Output []byte
	Refs   []Ref
	// Hash is the content hash of Output
	Hash string
}

func (m *Module) Size() int64 {
	return int64(len(m.Output))
}

// Dependencies returns the IDs referenced with one of kinds, in source order
// and without duplicates.
func (m *Module) Dependencies(kinds ...RefKind) []string {
	seen := map[string]bool{}
	var out []string
	for _, ref := range m.Refs {
		if !matchKind(ref.Kind, kinds) || seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		out = append(out, ref.ID)
	}
	return out
}

func matchKind(k RefKind, kinds []RefKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// Entry is a named entry point and the ID of its root module.
type Entry struct {
	Name string
	ID   string
}

type Graph struct {
	// Entries in configuration order
	Entries []Entry
	Modules map[string]*Module
}

func New() *Graph {
	return &Graph{Modules: map[string]*Module{}}
}

func (g *Graph) Module(id string) (*Module, bool) {
	m, ok := g.Modules[id]
	return m, ok
}

// IDs returns every module ID in sorted order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.Modules))
	for id := range g.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) Len() int {
	return len(g.Modules)
}

// Size is the total transformed size of all modules.
func (g *Graph) Size() int64 {
	var n int64
	for _, m := range g.Modules {
		n += m.Size()
	}
	return n
}
