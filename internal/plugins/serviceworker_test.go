package plugins

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
)

func swAssets(t *testing.T) *emit.Assets {
	t.Helper()
	assets := emit.NewAssets("/app/")
	for _, a := range []*emit.Asset{
		{Name: "static/js/main.0123abcd.js", Data: []byte("main()"), Kind: emit.AssetScript, Immutable: true},
		{Name: "static/js/main.0123abcd.js.map", Data: []byte("{}"), Kind: emit.AssetSourceMap, Immutable: true},
		{Name: "index.html", Data: []byte("<html></html>"), Kind: emit.AssetHTML},
		{Name: "asset-manifest.json", Data: []byte("{}"), Kind: emit.AssetManifest},
		{Name: "static/media/video.0a0b0c0d.avi", Data: []byte(strings.Repeat("x", 64)), Kind: emit.AssetMedia, Immutable: true},
	} {
		require.NoError(t, assets.Add(a))
	}
	return assets
}

func TestServiceWorker_Precache(t *testing.T) {
	cfg, err := config.New(config.Config{Entry: config.Entries{{Name: "main", Path: "./src/main.js"}}}, t.TempDir())
	require.NoError(t, err)

	sw, err := NewServiceWorker(cfg, config.ServiceWorkerOptions{MaximumFileSizeToCacheInBytes: 32})
	require.NoError(t, err)

	assets := swAssets(t)
	index, _ := assets.Get("index.html")

	require.Equal(t, []PrecacheEntry{
		{URL: "/app/index.html", Revision: index.Hash},
		{URL: "/app/static/js/main.0123abcd.js"},
	}, sw.Precache(assets))
}

func TestServiceWorker_Script(t *testing.T) {
	tests := []struct {
		name string
		opts config.ServiceWorkerOptions
		want []string
		not  []string
	}{
		{
			name: "claim and skip",
			opts: config.ServiceWorkerOptions{ClientsClaim: true, SkipWaiting: true},
			want: []string{"self.skipWaiting();", "self.clients.claim()", `const FALLBACK = "/app/index.html";`},
		},
		{
			name: "defaults",
			opts: config.ServiceWorkerOptions{Filename: "sw.js", Exclude: []string{`\.html$`}},
			want: []string{`{"url":"/app/static/js/main.0123abcd.js"}`},
			not:  []string{"skipWaiting", "clients.claim", `"url":"/app/index.html"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.New(config.Config{Entry: config.Entries{{Name: "main", Path: "./src/main.js"}}}, t.TempDir())
			require.NoError(t, err)

			sw, err := NewServiceWorker(cfg, tt.opts)
			require.NoError(t, err)

			assets := swAssets(t)
			require.NoError(t, sw.OnAssetEmitted(context.Background(), assets))

			name := tt.opts.Filename
			if name == "" {
				name = "service-worker.js"
			}
			script, ok := assets.Get(name)
			require.True(t, ok)
			require.Equal(t, emit.AssetScript, script.Kind)

			code := string(script.Data)
			assert.Contains(t, code, `const CACHE = "assetpipe-precache-`)
			for _, s := range tt.want {
				assert.Contains(t, code, s)
			}
			for _, s := range tt.not {
				assert.NotContains(t, code, s)
			}
		})
	}
}
