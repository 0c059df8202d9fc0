package emit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/chunk"
)

// Manifest describes a completed build. Outputs follows the shape of an
// esbuild metafile so scripts for an entry can be looked up by module.
type Manifest struct {
	// Build identifies the set of emitted artifacts
	Build       string                `json:"build"`
	Files       map[string]string     `json:"files"`
	Entrypoints map[string][]string   `json:"entrypoints"`
	Outputs     map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	EntryPoint string       `json:"entryPoint,omitempty"`
	Imports    []ImportInfo `json:"imports"`
}

type ImportInfo struct {
	Path string `json:"path"`
}

// Finalize computes the manifest for assets and, when configured, adds it as
// an asset. It runs after plugins have finished changing assets.
func (e *Emitter) Finalize(set *chunk.Set, assets *Assets) (*Manifest, error) {
	m := &Manifest{
		Build:       BuildHash(assets),
		Files:       map[string]string{},
		Entrypoints: map[string][]string{},
		Outputs:     map[string]OutputInfo{},
	}

	for _, a := range assets.Sorted() {
		key := a.Name
		if a.Chunk != "" && (a.Kind == AssetScript || a.Kind == AssetStyle) {
			key = a.Chunk + filepath.Ext(a.Name)
		}
		m.Files[key] = assets.URL(a.Name)
	}

	for _, g := range set.Groups {
		if g.Async {
			continue
		}
		ep := assets.Entrypoints[g.Name]
		if ep == nil {
			continue
		}
		m.Entrypoints[g.Name] = append(append([]string(nil), ep.Styles...), ep.Scripts...)

		// each script imports the scripts loaded before it
		var before []ImportInfo
		for _, c := range g.Scripts() {
			name, ok := assets.ChunkFile(c)
			if !ok {
				continue
			}
			info := OutputInfo{Imports: append([]ImportInfo{}, before...)}
			if c.Start != "" {
				info.EntryPoint = c.Start
			}
			m.Outputs[name] = info
			before = append(before, ImportInfo{Path: name})
		}
	}

	for _, g := range set.Async() {
		for _, c := range g.Scripts() {
			name, ok := assets.ChunkFile(c)
			if !ok {
				continue
			}
			if _, ok := m.Outputs[name]; !ok {
				m.Outputs[name] = OutputInfo{Imports: []ImportInfo{}}
			}
		}
	}

	if e.cfg.Output.Manifest != "" {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		if err := assets.Add(&Asset{
			Name: e.cfg.Output.Manifest,
			Data: append(data, '\n'),
			Kind: AssetManifest,
		}); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// BuildHash summarises the names and contents of all assets as a base58
// string.
func BuildHash(assets *Assets) string {
	var buf []byte
	for _, a := range assets.Sorted() {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(a.Name)))
		buf = append(buf, a.Name...)
		buf = append(buf, a.Hash...)
	}
	sum := binary.BigEndian.AppendUint64(nil, crc64nvme.Checksum(buf))
	return base58.Encode(sum)
}

// Commit writes assets under the output directory. With clean set the
// previous contents of the directory are removed first; otherwise existing
// files not produced by this build are left alone.
func (e *Emitter) Commit(assets *Assets) error {
	dir := e.cfg.Output.Path

	if e.cfg.Output.Clean {
		if err := cleanDir(dir); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var written int64
	for _, a := range assets.Sorted() {
		if err := writeFile(filepath.Join(dir, filepath.FromSlash(a.Name)), a.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.Name, err)
		}
		written += int64(len(a.Data))
	}

	log.Info().
		Str("output", dir).
		Int("assets", assets.Len()).
		Int64("bytes", written).
		Msg("Assets written")

	return nil
}

func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to clean output directory: %w", err)
		}
	}
	log.Debug().Str("output", dir).Int("removed", len(names)).Msg("Output directory cleaned")
	return nil
}

// writeFile writes data through a temporary file in the target directory and
// renames it into place.
func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".assetpipe-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
