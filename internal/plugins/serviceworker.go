package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"text/template"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/hooks"
)

const defaultMaxPrecacheSize = 2 * 1024 * 1024

var defaultPrecacheExclude = []string{`\.map$`, `^asset-manifest\.json$`, `\.(gz|zst)$`, `LICENSE`}

var workerTemplate = template.Must(template.New("service-worker").Parse(`const CACHE = {{.Cache}};
const PRECACHE = {{.Precache}};
const FALLBACK = {{.Fallback}};

self.addEventListener('install', (event) => {
  event.waitUntil(caches.open(CACHE).then((cache) => cache.addAll(PRECACHE.map((entry) => entry.url))));
{{- if .SkipWaiting}}
  self.skipWaiting();
{{- end}}
});

self.addEventListener('activate', (event) => {
  event.waitUntil(
    caches.keys()
      .then((keys) => Promise.all(keys.filter((key) => key.startsWith('assetpipe-precache-') && key !== CACHE).map((key) => caches.delete(key))))
{{- if .ClientsClaim}}
      .then(() => self.clients.claim())
{{- end}}
  );
});

self.addEventListener('fetch', (event) => {
  const request = event.request;
  if (request.method !== 'GET') {
    return;
  }
  if (FALLBACK && request.mode === 'navigate') {
    event.respondWith(caches.match(FALLBACK).then((response) => response || fetch(request)));
    return;
  }
  event.respondWith(caches.match(request).then((response) => response || fetch(request)));
});
`))

// PrecacheEntry is one asset listed in the service worker. Revision is empty
// for names that already embed a content hash.
type PrecacheEntry struct {
	URL      string `json:"url"`
	Revision string `json:"revision,omitempty"`
}

// ServiceWorker emits a worker script that precaches the build's assets and
// serves them cache first.
type ServiceWorker struct {
	hooks.Base

	filename     string
	clientsClaim bool
	skipWaiting  bool
	maxSize      int64
	exclude      []*regexp.Regexp
}

func NewServiceWorker(cfg *config.Config, opts config.ServiceWorkerOptions) (*ServiceWorker, error) {
	sw := &ServiceWorker{
		filename:     opts.Filename,
		clientsClaim: opts.ClientsClaim,
		skipWaiting:  opts.SkipWaiting,
		maxSize:      opts.MaximumFileSizeToCacheInBytes,
	}
	if sw.filename == "" {
		sw.filename = "service-worker.js"
	}
	if sw.maxSize <= 0 {
		sw.maxSize = defaultMaxPrecacheSize
	}

	patterns := append(append([]string(nil), defaultPrecacheExclude...), opts.Exclude...)
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: service worker exclude %q: %v", ErrInvalidOptions, p, err)
		}
		sw.exclude = append(sw.exclude, re)
	}
	return sw, nil
}

func (sw *ServiceWorker) Name() string { return "service-worker" }

// Precache lists the assets the worker caches on install, ordered by name.
func (sw *ServiceWorker) Precache(assets *emit.Assets) []PrecacheEntry {
	entries := []PrecacheEntry{}
	for _, a := range assets.Sorted() {
		if a.Name == sw.filename || sw.excluded(a.Name) {
			continue
		}
		if int64(len(a.Data)) > sw.maxSize {
			log.Warn().Str("asset", a.Name).Int("size", len(a.Data)).Msg("Asset too large to precache")
			continue
		}
		entry := PrecacheEntry{URL: assets.URL(a.Name)}
		if !a.Immutable {
			entry.Revision = a.Hash
		}
		entries = append(entries, entry)
	}
	return entries
}

func (sw *ServiceWorker) excluded(name string) bool {
	for _, re := range sw.exclude {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (sw *ServiceWorker) OnAssetEmitted(_ context.Context, assets *emit.Assets) error {
	entries := sw.Precache(assets)

	precache, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode precache manifest: %w", err)
	}

	fallback := ""
	if _, ok := assets.Get("index.html"); ok {
		fallback = assets.URL("index.html")
	}

	cacheName, _ := json.Marshal("assetpipe-precache-" + emit.ContentHash(precache))
	fallbackJSON, _ := json.Marshal(fallback)

	var buf bytes.Buffer
	if err := workerTemplate.Execute(&buf, map[string]any{
		"Cache":        string(cacheName),
		"Precache":     string(precache),
		"Fallback":     string(fallbackJSON),
		"ClientsClaim": sw.clientsClaim,
		"SkipWaiting":  sw.skipWaiting,
	}); err != nil {
		return fmt.Errorf("failed to render service worker: %w", err)
	}

	if err := assets.Add(&emit.Asset{Name: sw.filename, Data: buf.Bytes(), Kind: emit.AssetScript}); err != nil {
		return err
	}

	log.Debug().Str("asset", sw.filename).Int("precached", len(entries)).Msg("Service worker generated")
	return nil
}
