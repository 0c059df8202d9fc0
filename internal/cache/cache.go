// Package cache stores loader and lint results keyed by their inputs. Entries
// live in a bounded in-memory LRU and, when a directory is configured, in one
// file per key on disk so later builds can reuse them.
package cache

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
)

// version is mixed into every key so a format change invalidates old entries.
const version = "assetpipe-cache-v1"

type Config struct {
	// Directory holds persisted entries, empty keeps the cache in memory only
	Directory string
	// Compression stores disk entries zstd compressed
	Compression bool
	// MemoryEntries bounds the in-memory layer
	MemoryEntries int
}

type Stats struct {
	Hits   int64
	Misses int64
}

type Store struct {
	cfg Config
	mem *lru.Cache[string, []byte]
	enc *zstd.Encoder
	dec *zstd.Decoder

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache store, creating the directory when configured.
func New(cfg Config) (*Store, error) {
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = 1024
	}

	mem, err := lru.New[string, []byte](cfg.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	s := &Store{cfg: cfg, mem: mem}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	if cfg.Compression {
		// EncodeAll/DecodeAll are safe for concurrent use
		s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder: %w", err)
		}
		s.dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}
	}

	return s, nil
}

// Get returns the cached value for key.
func (s *Store) Get(key string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}

	if data, ok := s.mem.Get(key); ok {
		s.hits.Add(1)
		return data, true
	}

	if s.cfg.Directory == "" {
		s.misses.Add(1)
		return nil, false
	}

	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("key", key).Msg("Failed to read cache entry")
		}
		s.misses.Add(1)
		return nil, false
	}

	data := raw
	if s.dec != nil {
		data, err = s.dec.DecodeAll(raw, nil)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cache entry")
			s.misses.Add(1)
			return nil, false
		}
	}

	s.mem.Add(key, data)
	s.hits.Add(1)
	return data, true
}

// Stats returns the hit and miss counts since the store was created.
func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Put stores value under key in memory and on disk.
func (s *Store) Put(key string, value []byte) error {
	if s == nil {
		return nil
	}

	s.mem.Add(key, value)

	if s.cfg.Directory == "" {
		return nil
	}

	data := value
	if s.enc != nil {
		data = s.enc.EncodeAll(value, make([]byte, 0, len(value)/2))
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache shard: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Close releases the compression resources.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.dec != nil {
		s.dec.Close()
	}
	if s.enc != nil {
		return s.enc.Close()
	}
	return nil
}

func (s *Store) path(key string) string {
	name := key
	if s.cfg.Compression {
		name += ".zst"
	}
	return filepath.Join(s.cfg.Directory, key[:2], name)
}

// Key derives a cache key from length-prefixed parts, so ("ab", "c") and
// ("a", "bc") never collide.
func Key(parts ...[]byte) string {
	h := crc64nvme.New()
	var prefix [8]byte

	write := func(b []byte) {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(b)))
		h.Write(prefix[:])
		h.Write(b)
	}

	write([]byte(version))
	for _, p := range parts {
		write(p)
	}

	return hex.EncodeToString(h.Sum(nil))
}
