package emit

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/wolfeidau/assetpipe/internal/chunk"
)

var (
	// ErrAssetConflict indicates two different artifacts render to the same name
	ErrAssetConflict = errors.New("conflicting asset name")
	// ErrInvalidAssetName indicates an asset name escapes the output directory
	ErrInvalidAssetName = errors.New("invalid asset name")
)

type AssetKind string

const (
	AssetScript    AssetKind = "script"
	AssetStyle     AssetKind = "style"
	AssetMedia     AssetKind = "media"
	AssetSourceMap AssetKind = "sourcemap"
	AssetManifest  AssetKind = "manifest"
	AssetHTML      AssetKind = "html"
	AssetOther     AssetKind = "other"
)

// Asset is a named output blob. Name is relative to the output directory and
// uses forward slashes.
type Asset struct {
	Name string
	Data []byte
	// Hash is the content hash of Data, filled in by Add and Update
	Hash string
	Kind AssetKind
	// Chunk is the name of the originating chunk, if any
	Chunk string
	// Module is the ID of the originating asset module, if any
	Module string
	// Immutable is set when the name embeds the content hash
	Immutable bool
}

// Entrypoint lists the files an entry page loads, in order.
type Entrypoint struct {
	Scripts []string
	Styles  []string
}

// Assets is the set of artifacts produced by a build. Plugins may add,
// replace or remove assets during the asset-emitted hook.
type Assets struct {
	// PublicPath prefixes asset names in URLs
	PublicPath  string
	Entrypoints map[string]*Entrypoint

	list   []*Asset
	index  map[string]*Asset
	chunks map[string]string
}

func NewAssets(publicPath string) *Assets {
	return &Assets{
		PublicPath:  publicPath,
		Entrypoints: map[string]*Entrypoint{},
		index:       map[string]*Asset{},
		chunks:      map[string]string{},
	}
}

// Add appends an asset. Adding identical content under an existing name is a
// no-op; different content is ErrAssetConflict.
func (a *Assets) Add(asset *Asset) error {
	if !filepath.IsLocal(filepath.FromSlash(asset.Name)) {
		return fmt.Errorf("%w: %q", ErrInvalidAssetName, asset.Name)
	}
	if asset.Hash == "" {
		asset.Hash = ContentHash(asset.Data)
	}
	if existing, ok := a.index[asset.Name]; ok {
		if existing.Hash == asset.Hash {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAssetConflict, asset.Name)
	}
	a.list = append(a.list, asset)
	a.index[asset.Name] = asset
	return nil
}

// Update replaces the contents of an existing asset.
func (a *Assets) Update(name string, data []byte) error {
	asset, ok := a.index[name]
	if !ok {
		return fmt.Errorf("asset %s not found", name)
	}
	asset.Data = data
	asset.Hash = ContentHash(data)
	return nil
}

func (a *Assets) Get(name string) (*Asset, bool) {
	asset, ok := a.index[name]
	return asset, ok
}

func (a *Assets) Delete(name string) {
	if _, ok := a.index[name]; !ok {
		return
	}
	delete(a.index, name)
	for i, asset := range a.list {
		if asset.Name == name {
			a.list = append(a.list[:i], a.list[i+1:]...)
			break
		}
	}
}

// All returns the assets in emission order: chunk files in chunk order, then
// module files, then anything plugins added.
func (a *Assets) All() []*Asset {
	return append([]*Asset(nil), a.list...)
}

func (a *Assets) sortBy(rank func(*Asset) int) {
	sort.SliceStable(a.list, func(i, j int) bool { return rank(a.list[i]) < rank(a.list[j]) })
}

// Sorted returns the assets ordered by name.
func (a *Assets) Sorted() []*Asset {
	out := a.All()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Assets) Len() int {
	return len(a.list)
}

// Size is the total number of bytes across all assets.
func (a *Assets) Size() int64 {
	var n int64
	for _, asset := range a.list {
		n += int64(len(asset.Data))
	}
	return n
}

// ChunkFile returns the emitted name of a chunk.
func (a *Assets) ChunkFile(c *chunk.Chunk) (string, bool) {
	name, ok := a.chunks[chunkKey(c)]
	return name, ok
}

// URL returns the public URL of an asset name.
func (a *Assets) URL(name string) string {
	return a.PublicPath + name
}

func (a *Assets) setChunkFile(c *chunk.Chunk, name string) {
	a.chunks[chunkKey(c)] = name
}

func chunkKey(c *chunk.Chunk) string {
	if c.Script() {
		return c.Name
	}
	return "css:" + c.Name
}
