package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/config"
)

func TestPreload_Include(t *testing.T) {
	files := map[string]string{
		"src/main.js": "import('./lazy').then(function (m) { m.run(); });\n",
		"src/lazy.js": "exports.run = function () {};\n",
	}

	tests := []struct {
		include config.PreloadInclude
		initial bool
		async   bool
	}{
		{include: config.PreloadInitial, initial: true},
		{include: config.PreloadAsyncChunks, async: true},
		{include: config.PreloadAllChunks, initial: true, async: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.include), func(t *testing.T) {
			f := newFixture(t, config.Config{}, files)
			ctx := context.Background()

			p, err := NewPreload(config.PreloadOptions{Include: tt.include})
			require.NoError(t, err)
			require.NoError(t, p.OnChunkOptimized(ctx, f.set))

			entry, ok := f.set.Script("main")
			require.True(t, ok)
			async := f.set.Async()
			require.Len(t, async, 1)
			lazy := async[0].Scripts()[0]

			_, marked := entry.Meta[PreloadMeta]
			assert.Equal(t, tt.initial, marked)
			_, marked = lazy.Meta[PreloadMeta]
			assert.Equal(t, tt.async, marked)

			assets := f.render(t)
			h, err := NewHTML(f.cfg, config.HTMLOptions{})
			require.NoError(t, err)
			require.NoError(t, h.OnAssetEmitted(ctx, assets))
			require.NoError(t, p.OnAssetEmitted(ctx, assets))

			page, ok := assets.Get("index.html")
			require.True(t, ok)

			lazyFile, ok := assets.ChunkFile(lazy)
			require.True(t, ok)
			link := `<link href="/` + lazyFile + `" rel="preload" as="script"/>`
			if tt.async {
				assert.Contains(t, string(page.Data), link)
			} else {
				assert.NotContains(t, string(page.Data), link)
			}
		})
	}
}

func TestPreload_NoPages(t *testing.T) {
	f := newFixture(t, config.Config{}, map[string]string{
		"src/main.js": "import('./lazy');\n",
		"src/lazy.js": "module.exports = 1;\n",
	})

	p, err := NewPreload(config.PreloadOptions{Rel: "prefetch", Include: config.PreloadAllChunks})
	require.NoError(t, err)
	require.NoError(t, p.OnChunkOptimized(context.Background(), f.set))

	assets := f.render(t)
	before := assets.Len()
	require.NoError(t, p.OnAssetEmitted(context.Background(), assets))
	require.Equal(t, before, assets.Len())

	entry, _ := f.set.Script("main")
	require.Equal(t, "prefetch", entry.Meta[PreloadMeta])
}
