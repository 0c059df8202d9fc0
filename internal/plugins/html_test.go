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

func TestHTML_InjectsEntryFiles(t *testing.T) {
	f := newFixture(t, config.Config{Rules: []config.Rule{cssRule}}, map[string]string{
		"src/main.js": "require('./a.css');\nrequire('./b.js');\n",
		"src/a.css":   ".a { color: red }\n",
		"src/b.js":    "module.exports = 1;\n",
	})
	assets := f.render(t)

	h, err := NewHTML(f.cfg, config.HTMLOptions{Title: "Shop"})
	require.NoError(t, err)
	require.NoError(t, h.OnAssetEmitted(context.Background(), assets))

	page, ok := assets.Get("index.html")
	require.True(t, ok)
	require.Equal(t, emit.AssetHTML, page.Kind)

	ep := assets.Entrypoints["main"]
	require.Len(t, ep.Scripts, 1)
	require.Len(t, ep.Styles, 1)

	doc := string(page.Data)
	head := doc[:strings.Index(doc, "</head>")]
	assert.Contains(t, doc, "<title>Shop</title>")
	assert.Contains(t, head, `<script defer="defer" src="/`+ep.Scripts[0]+`"></script>`)
	assert.Contains(t, head, `<link href="/`+ep.Styles[0]+`" rel="stylesheet"/>`)
	assert.Contains(t, doc, `<div id="root"></div>`)
}

func TestHTML_TemplateFile(t *testing.T) {
	f := newFixture(t, config.Config{
		Entry: config.Entries{
			{Name: "main", Path: "./src/main.js"},
			{Name: "admin", Path: "./src/admin.js"},
		},
	}, map[string]string{
		"src/main.js":       "module.exports = 'main';\n",
		"src/admin.js":      "module.exports = 'admin';\n",
		"public/index.html": "<html><head><title>{{.Title}}</title></head><body><p>{{marshal .Entries}}</p></body></html>\n",
	})
	assets := f.render(t)

	h, err := NewHTML(f.cfg, config.HTMLOptions{Template: "public/index.html", Filename: "admin.html", Entries: []string{"admin"}})
	require.NoError(t, err)
	require.NoError(t, h.OnAssetEmitted(context.Background(), assets))

	page, ok := assets.Get("admin.html")
	require.True(t, ok)

	doc := string(page.Data)
	assert.Contains(t, doc, "<title>assetpipe</title>")
	assert.Contains(t, doc, "<p>[&#34;admin&#34;]</p>")
	assert.Contains(t, doc, "/"+assets.Entrypoints["admin"].Scripts[0])
	assert.NotContains(t, doc, "/"+assets.Entrypoints["main"].Scripts[0])
}

func TestHTML_MissingTemplate(t *testing.T) {
	cfg, err := config.New(config.Config{Entry: config.Entries{{Name: "main", Path: "./src/main.js"}}}, t.TempDir())
	require.NoError(t, err)

	_, err = NewHTML(cfg, config.HTMLOptions{Template: "public/missing.html"})
	require.Error(t, err)
}
