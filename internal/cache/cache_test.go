package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key([]byte("ab"), []byte("c"))
	b := Key([]byte("a"), []byte("bc"))
	require.NotEqual(t, a, b)
	require.Equal(t, a, Key([]byte("ab"), []byte("c")))
	require.Len(t, a, 16)
}

func TestStore_MemoryOnly(t *testing.T) {
	s, err := New(Config{MemoryEntries: 2})
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Get("missing")
	require.False(t, ok)

	require.NoError(t, s.Put("k1", []byte("one")))
	data, ok := s.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("one"), data)

	assert.Equal(t, Stats{Hits: 1, Misses: 1}, s.Stats())
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	tests := []struct {
		name        string
		compression bool
	}{
		{name: "plain", compression: false},
		{name: "zstd", compression: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			key := Key([]byte("module.js"), []byte("source"))

			first, err := New(Config{Directory: dir, Compression: tt.compression})
			require.NoError(t, err)
			require.NoError(t, first.Put(key, []byte("transformed output")))
			require.NoError(t, first.Close())

			second, err := New(Config{Directory: dir, Compression: tt.compression})
			require.NoError(t, err)
			defer second.Close()

			data, ok := second.Get(key)
			require.True(t, ok)
			require.Equal(t, []byte("transformed output"), data)

			name := key
			if tt.compression {
				name += ".zst"
			}
			_, err = os.Stat(filepath.Join(dir, key[:2], name))
			require.NoError(t, err)
		})
	}
}

func TestStore_CorruptCompressedEntry(t *testing.T) {
	dir := t.TempDir()
	key := Key([]byte("x"))

	s, err := New(Config{Directory: dir, Compression: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, key[:2]), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, key[:2], key+".zst"), []byte("not zstd"), 0644))

	_, ok := s.Get(key)
	require.False(t, ok)
}

func TestStore_NilIsNoop(t *testing.T) {
	var s *Store
	require.NoError(t, s.Put("k", []byte("v")))
	_, ok := s.Get("k")
	require.False(t, ok)
	require.NoError(t, s.Close())
}
