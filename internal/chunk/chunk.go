// Package chunk partitions a module graph into output chunks. Every entry
// gets an entry chunk, every lazily imported module starts an async chunk,
// modules shared between chunk groups are split into shared chunks once
// they are large enough, and style modules are extracted into style chunks
// alongside the script chunk that owns them.
package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryNotScript indicates an entry or lazy import target is not a script module
	ErrEntryNotScript = errors.New("chunk root is not a script module")
	// ErrNameCollision indicates two chunks of the same kind share a name
	ErrNameCollision = errors.New("chunk name collision")
	// ErrUnassigned indicates a module is not reachable from any chunk group
	ErrUnassigned = errors.New("module not assigned to a chunk")
)

// PartitionError reports a chunk graph that cannot be determined.
type PartitionError struct {
	Chunk  string
	Module string
	Err    error
}

func (e *PartitionError) Error() string {
	switch {
	case e.Chunk != "" && e.Module != "":
		return fmt.Sprintf("partition chunk %s module %s: %v", e.Chunk, e.Module, e.Err)
	case e.Chunk != "":
		return fmt.Sprintf("partition chunk %s: %v", e.Chunk, e.Err)
	default:
		return fmt.Sprintf("partition module %s: %v", e.Module, e.Err)
	}
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindEntry   Kind = "entry"
	KindRuntime Kind = "runtime"
	KindShared  Kind = "shared"
	KindAsync   Kind = "async"
	KindStyle   Kind = "style"
)

// Chunk is a group of modules emitted as one artifact. Modules are referenced
// by ID and listed in render order.
type Chunk struct {
	Name    string
	Kind    Kind
	Modules []string
	// Entries names the entry points whose pages may load this chunk
	Entries []string
	// Filename is the output filename template
	Filename string
	// Initial is set for chunks loaded when an entry page starts
	Initial bool
	// Runtime is set for chunks that carry the module runtime
	Runtime bool
	// Start is the module executed once an entry chunk loads
	Start string
	// Meta is free for plugins to annotate during chunk-optimized
	Meta map[string]any
}

// Script reports whether the chunk renders as JavaScript.
func (c *Chunk) Script() bool {
	return c.Kind != KindStyle
}

// Group is an entry point or lazy import target together with the chunks
// that must be loaded, in order, before its root module runs.
type Group struct {
	Name  string
	Async bool
	// Root is the ID of the entry or lazily imported module
	Root string
	// Entries are the entry points that can reach this group
	Entries []string
	Chunks  []*Chunk
}

func (g *Group) Scripts() []*Chunk {
	return g.filter(true)
}

func (g *Group) Styles() []*Chunk {
	return g.filter(false)
}

func (g *Group) filter(script bool) []*Chunk {
	var out []*Chunk
	for _, c := range g.Chunks {
		if c.Script() == script {
			out = append(out, c)
		}
	}
	return out
}

// Set is the partitioned chunk graph. Chunks are in emission order: entry
// chunks, runtime chunks, shared chunks, async chunks, then style chunks.
type Set struct {
	Chunks []*Chunk
	// Groups holds entry groups in configuration order followed by async groups
	Groups []*Group
}

// Script returns the script chunk with the given name.
func (s *Set) Script(name string) (*Chunk, bool) {
	return s.find(name, true)
}

// Style returns the style chunk with the given name.
func (s *Set) Style(name string) (*Chunk, bool) {
	return s.find(name, false)
}

func (s *Set) find(name string, script bool) (*Chunk, bool) {
	for _, c := range s.Chunks {
		if c.Name == name && c.Script() == script {
			return c, true
		}
	}
	return nil, false
}

// Entrypoint returns the group of the named entry.
func (s *Set) Entrypoint(name string) (*Group, bool) {
	for _, g := range s.Groups {
		if !g.Async && g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Async returns the lazily loaded groups.
func (s *Set) Async() []*Group {
	var out []*Group
	for _, g := range s.Groups {
		if g.Async {
			out = append(out, g)
		}
	}
	return out
}

// Containing returns the chunks a module was assigned to.
func (s *Set) Containing(id string) []*Chunk {
	var out []*Chunk
	for _, c := range s.Chunks {
		for _, m := range c.Modules {
			if m == id {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
