package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/hooks"
)

const defaultPage = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
  </head>
  <body>
    <noscript>You need to enable JavaScript to run this app.</noscript>
    <div id="root"></div>
  </body>
</html>
`

// PageData is passed to the page template.
type PageData struct {
	Title      string
	PublicPath string
	// Entries are the entry names whose files are injected, in order
	Entries []string
}

// HTML renders a page template and injects the stylesheets and deferred
// scripts of the selected entries into its head.
type HTML struct {
	hooks.Base

	filename string
	title    string
	entries  []string
	order    []string
	tmpl     *template.Template
}

func NewHTML(cfg *config.Config, opts config.HTMLOptions) (*HTML, error) {
	h := &HTML{
		filename: opts.Filename,
		title:    opts.Title,
		entries:  opts.Entries,
	}
	if h.filename == "" {
		h.filename = "index.html"
	}
	if h.title == "" {
		h.title = "assetpipe"
	}
	for _, e := range cfg.Entry {
		h.order = append(h.order, e.Name)
	}
	for _, name := range h.entries {
		if _, ok := cfg.Entry.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: html chunks names unknown entry %q", ErrInvalidOptions, name)
		}
	}

	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}

	var err error
	if opts.Template == "" {
		h.tmpl, err = template.New("page").Funcs(funcs).Parse(defaultPage)
	} else {
		file := contextPath(cfg, opts.Template)
		h.tmpl, err = template.New(filepath.Base(file)).Funcs(funcs).ParseFiles(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load html template: %w", err)
	}
	return h, nil
}

func (h *HTML) Name() string { return "html" }

func (h *HTML) OnAssetEmitted(_ context.Context, assets *emit.Assets) error {
	entries := h.entries
	if len(entries) == 0 {
		entries = h.order
	}

	var page bytes.Buffer
	if err := h.tmpl.Execute(&page, PageData{
		Title:      h.title,
		PublicPath: assets.PublicPath,
		Entries:    entries,
	}); err != nil {
		return fmt.Errorf("failed to render html template: %w", err)
	}

	seen := map[string]bool{}
	var styles, scripts []*html.Node
	for _, name := range entries {
		ep, ok := assets.Entrypoints[name]
		if !ok {
			continue
		}
		for _, file := range ep.Styles {
			if !seen[file] {
				seen[file] = true
				styles = append(styles, element(atom.Link, "href", assets.URL(file), "rel", "stylesheet"))
			}
		}
		for _, file := range ep.Scripts {
			if !seen[file] {
				seen[file] = true
				scripts = append(scripts, element(atom.Script, "defer", "defer", "src", assets.URL(file)))
			}
		}
	}

	out, err := injectHead(page.Bytes(), append(scripts, styles...))
	if err != nil {
		return err
	}

	if err := assets.Add(&emit.Asset{Name: h.filename, Data: out, Kind: emit.AssetHTML}); err != nil {
		return err
	}

	log.Debug().Str("asset", h.filename).Strs("entries", entries).Msg("Page rendered")
	return nil
}

// element creates an element node with attributes given as key, value pairs.
func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// injectHead appends nodes to the head of an HTML document.
func injectHead(doc []byte, nodes []*html.Node) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	head := find(root, atom.Head)
	if head == nil {
		return nil, errors.New("html document has no head")
	}
	for _, n := range nodes {
		head.AppendChild(n)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return buf.Bytes(), nil
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func marshal(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("template value must be json serializable: %w", err)
	}
	return string(data), nil
}
