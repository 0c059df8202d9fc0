package plugins

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
)

// noise returns bytes that do not compress.
func noise(n int) []byte {
	out := make([]byte, n)
	x := uint32(2463534242)
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}

func TestCompress_Siblings(t *testing.T) {
	text := []byte(strings.Repeat("console.log('hello');\n", 200))

	assets := emit.NewAssets("/")
	for _, a := range []*emit.Asset{
		{Name: "static/js/main.0123abcd.js", Data: text, Kind: emit.AssetScript, Chunk: "main", Immutable: true},
		{Name: "static/js/tiny.js", Data: []byte("x()"), Kind: emit.AssetScript},
		{Name: "static/js/random.js", Data: noise(4096), Kind: emit.AssetScript},
		{Name: "static/media/logo.png", Data: text, Kind: emit.AssetMedia},
	} {
		require.NoError(t, assets.Add(a))
	}

	c, err := NewCompress(config.CompressOptions{Algorithms: []string{"gzip", "zstd"}})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.OnAssetEmitted(context.Background(), assets))

	var names []string
	for _, a := range assets.Sorted() {
		names = append(names, a.Name)
	}
	require.Equal(t, []string{
		"static/js/main.0123abcd.js",
		"static/js/main.0123abcd.js.gz",
		"static/js/main.0123abcd.js.zst",
		"static/js/random.js",
		"static/js/tiny.js",
		"static/media/logo.png",
	}, names)

	gz, _ := assets.Get("static/js/main.0123abcd.js.gz")
	assert.True(t, gz.Immutable)
	r, err := gzip.NewReader(bytes.NewReader(gz.Data))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, text, plain)

	zst, _ := assets.Get("static/js/main.0123abcd.js.zst")
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err = dec.DecodeAll(zst.Data, nil)
	require.NoError(t, err)
	require.Equal(t, text, plain)
}

func TestCompress_DefaultsToGzip(t *testing.T) {
	assets := emit.NewAssets("/")
	require.NoError(t, assets.Add(&emit.Asset{Name: "index.html", Data: bytes.Repeat([]byte("<p>hi</p>"), 200), Kind: emit.AssetHTML}))

	c, err := NewCompress(config.CompressOptions{})
	require.NoError(t, err)
	require.NoError(t, c.OnAssetEmitted(context.Background(), assets))

	_, ok := assets.Get("index.html.gz")
	require.True(t, ok)
	_, ok = assets.Get("index.html.zst")
	require.False(t, ok)
}
