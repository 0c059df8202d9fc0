// Package config holds the build configuration. A Config is loaded and
// compiled once at build start and shared by pointer with every stage of the
// pipeline; nothing mutates it afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoEntry indicates the configuration declares no entry modules
	ErrNoEntry = errors.New("no entry configured")
	// ErrInvalidRule indicates a rule predicate could not be compiled
	ErrInvalidRule = errors.New("invalid rule")
	// ErrInvalidOption indicates an option holds an unsupported value
	ErrInvalidOption = errors.New("invalid option")
)

type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// RuntimeChunk controls where the module bootstrap code is emitted.
type RuntimeChunk string

const (
	// RuntimeChunkMultiple emits one runtime chunk per entry named runtime~<entry>
	RuntimeChunkMultiple RuntimeChunk = "multiple"
	// RuntimeChunkSingle emits one runtime chunk shared by every entry
	RuntimeChunkSingle RuntimeChunk = "single"
	// RuntimeChunkOff inlines the runtime into each entry chunk
	RuntimeChunkOff RuntimeChunk = "off"
)

type Config struct {
	// Context is the source root; entries, include prefixes and module IDs are relative to it
	Context string `yaml:"context"`
	// Mode selects production or development defaults
	Mode Mode `yaml:"mode"`
	// Entry is a single path or an ordered name -> path mapping
	Entry Entries `yaml:"entry"`
	// Output configures where and how artifacts are written
	Output Output `yaml:"output"`
	// Resolve configures module resolution
	Resolve Resolve `yaml:"resolve"`
	// Rules are evaluated in order; the first match wins
	Rules []Rule `yaml:"rules"`
	// Optimization configures minification and chunk splitting
	Optimization Optimization `yaml:"optimization"`
	// Devtool enables source maps when set to "source-map"
	Devtool string `yaml:"devtool"`
	// Cache configures the loader output cache
	Cache Cache `yaml:"cache"`
	// Concurrency is the number of transform workers
	Concurrency int `yaml:"concurrency"`
	// Plugins enables the built-in plugins; a nil section disables the plugin
	Plugins Plugins `yaml:"plugins"`
}

type Output struct {
	Path             string `yaml:"path"`
	PublicPath       string `yaml:"publicPath"`
	Filename         string `yaml:"filename"`
	ChunkFilename    string `yaml:"chunkFilename"`
	CSSFilename      string `yaml:"cssFilename"`
	CSSChunkFilename string `yaml:"cssChunkFilename"`
	AssetFilename    string `yaml:"assetModuleFilename"`
	// Manifest is the name of the emitted asset manifest, empty disables it
	Manifest string `yaml:"manifest"`
	// Clean removes the previous contents of Path before writing
	Clean bool `yaml:"clean"`
}

type Resolve struct {
	Extensions []string `yaml:"extensions"`
	Modules    []string `yaml:"modules"`
}

type Optimization struct {
	Minimize     bool         `yaml:"minimize"`
	RuntimeChunk RuntimeChunk `yaml:"runtimeChunk"`
	SplitChunks  SplitChunks  `yaml:"splitChunks"`
}

type SplitChunks struct {
	// MinSize is the smallest shared chunk, in bytes, emitted on its own
	MinSize int64 `yaml:"minSize"`
}

type Cache struct {
	Enabled       bool   `yaml:"enabled"`
	Directory     string `yaml:"directory"`
	Compression   bool   `yaml:"compression"`
	MemoryEntries int    `yaml:"memoryEntries"`
}

// SourceMaps reports whether external source maps should be emitted.
func (c *Config) SourceMaps() bool {
	return c.Devtool == "source-map"
}

// Rel returns path relative to the context root using forward slashes.
func (c *Config) Rel(path string) string {
	rel, err := filepath.Rel(c.Context, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Option adjusts a configuration before it is compiled.
type Option func(*Config)

func WithEntry(name, path string) Option {
	return func(c *Config) {
		c.Entry = Entries{{Name: name, Path: path}}
	}
}

func WithOutputPath(path string) Option {
	return func(c *Config) {
		c.Output.Path = path
	}
}

func WithMinimize(minimize bool) Option {
	return func(c *Config) {
		c.Optimization.Minimize = minimize
	}
}

func WithClean(clean bool) Option {
	return func(c *Config) {
		c.Output.Clean = clean
	}
}

func WithMode(mode Mode) Option {
	return func(c *Config) {
		c.Mode = mode
		if mode == ModeDevelopment {
			c.Optimization.Minimize = false
			c.Devtool = ""
		}
	}
}

func WithConcurrency(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Concurrency = n
		}
	}
}

// Load reads a YAML configuration on top of Default. Relative paths in the
// file are resolved against the directory containing it.
func Load(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return New(cfg, filepath.Dir(path), opts...)
}

// New applies opts to base, fills unset fields with defaults, resolves paths
// against dir and compiles rule predicates.
func New(base Config, dir string, opts ...Option) (*Config, error) {
	cfg := base
	cfg.Entry = append(Entries(nil), base.Entry...)
	cfg.Rules = append([]Rule(nil), base.Rules...)

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.applyDefaults()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	cfg.Context = resolvePath(absDir, cfg.Context)
	cfg.Output.Path = resolvePath(cfg.Context, cfg.Output.Path)
	if cfg.Cache.Directory != "" {
		cfg.Cache.Directory = resolvePath(cfg.Context, cfg.Cache.Directory)
	}

	if err := cfg.compile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Mode == "" {
		c.Mode = ModeProduction
	}
	if c.Output.PublicPath == "" {
		c.Output.PublicPath = def.Output.PublicPath
	}
	if c.Output.Filename == "" {
		c.Output.Filename = def.Output.Filename
	}
	if c.Output.ChunkFilename == "" {
		c.Output.ChunkFilename = def.Output.ChunkFilename
	}
	if c.Output.CSSFilename == "" {
		c.Output.CSSFilename = def.Output.CSSFilename
	}
	if c.Output.CSSChunkFilename == "" {
		c.Output.CSSChunkFilename = def.Output.CSSChunkFilename
	}
	if c.Output.AssetFilename == "" {
		c.Output.AssetFilename = def.Output.AssetFilename
	}
	if c.Output.Path == "" {
		c.Output.Path = "dist"
	}
	if len(c.Resolve.Extensions) == 0 {
		c.Resolve.Extensions = def.Resolve.Extensions
	}
	if len(c.Resolve.Modules) == 0 {
		c.Resolve.Modules = def.Resolve.Modules
	}
	if c.Optimization.RuntimeChunk == "" {
		c.Optimization.RuntimeChunk = RuntimeChunkOff
	}
	if c.Cache.MemoryEntries <= 0 {
		c.Cache.MemoryEntries = def.Cache.MemoryEntries
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if !strings.HasSuffix(c.Output.PublicPath, "/") {
		c.Output.PublicPath += "/"
	}
}

func (c *Config) compile() error {
	for i := range c.Rules {
		if err := c.Rules[i].compile(); err != nil {
			return fmt.Errorf("%w: rules[%d]: %v", ErrInvalidRule, i, err)
		}
	}
	return nil
}

// Validate checks option values that cannot be defaulted.
func (c *Config) Validate() error {
	if len(c.Entry) == 0 {
		return ErrNoEntry
	}

	seen := map[string]bool{}
	for _, e := range c.Entry {
		if e.Name == "" || e.Path == "" {
			return fmt.Errorf("%w: entry requires a name and a path", ErrInvalidOption)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate entry %q", ErrInvalidOption, e.Name)
		}
		seen[e.Name] = true
	}

	switch c.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return fmt.Errorf("%w: mode must be production or development, got %q", ErrInvalidOption, c.Mode)
	}

	switch c.Optimization.RuntimeChunk {
	case RuntimeChunkMultiple, RuntimeChunkSingle, RuntimeChunkOff:
	default:
		return fmt.Errorf("%w: runtimeChunk must be multiple, single or off, got %q", ErrInvalidOption, c.Optimization.RuntimeChunk)
	}

	switch c.Devtool {
	case "", "source-map":
	default:
		return fmt.Errorf("%w: devtool must be empty or source-map, got %q", ErrInvalidOption, c.Devtool)
	}

	if c.Optimization.SplitChunks.MinSize < 0 {
		return fmt.Errorf("%w: splitChunks.minSize must not be negative", ErrInvalidOption)
	}

	if filepath.Clean(c.Output.Path) == filepath.Clean(c.Context) {
		return fmt.Errorf("%w: output path must not be the context directory", ErrInvalidOption)
	}

	return nil
}

func resolvePath(base, path string) string {
	if path == "" {
		return base
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// Default returns the production configuration used when no file is given
// and as the base a configuration file is read on top of.
func Default() Config {
	return Config{
		Context: ".",
		Mode:    ModeProduction,
		Entry:   Entries{{Name: "main", Path: "./src/main.js"}},
		Output: Output{
			Path:             "dist",
			PublicPath:       "/",
			Filename:         "static/js/[name].[contenthash:8].js",
			ChunkFilename:    "static/js/[name].[contenthash:8].chunk.js",
			CSSFilename:      "static/css/[name].[contenthash:8].css",
			CSSChunkFilename: "static/css/[name].[contenthash:8].chunk.css",
			AssetFilename:    "static/media/[name].[hash:8][ext]",
			Manifest:         "asset-manifest.json",
			Clean:            true,
		},
		Resolve: Resolve{
			Extensions: []string{".js", ".mjs", ".jsx", ".ts", ".tsx", ".json", ".css"},
			Modules:    []string{"node_modules"},
		},
		Rules: []Rule{
			{
				Test: `\.css$`,
				Type: RuleTypeCSS,
				Use:  []LoaderSpec{{Name: "css"}},
			},
			{
				Test: `\.(png|jpe?g|gif|webp)$`,
				Type: RuleTypeAsset,
				Parser: Parser{
					DataURLCondition: DataURLCondition{MaxSize: 60 * 1024},
				},
				Generator: Generator{Filename: "static/imgs/[hash:8][ext][query]"},
			},
			{
				Test:      `\.(ttf|woff2?|map4|map3|avi)$`,
				Type:      RuleTypeAssetResource,
				Generator: Generator{Filename: "static/media/[hash:8][ext][query]"},
			},
			{
				Test:    `\.js$`,
				Include: []string{"src"},
				Type:    RuleTypeJavaScript,
				Use: []LoaderSpec{{
					Name:    "esbuild",
					Options: map[string]any{"target": "es2015"},
				}},
			},
		},
		Optimization: Optimization{
			Minimize:     true,
			RuntimeChunk: RuntimeChunkMultiple,
			SplitChunks:  SplitChunks{MinSize: 20000},
		},
		Devtool: "source-map",
		Cache: Cache{
			Enabled:       true,
			Directory:     "node_modules/.cache/assetpipe",
			Compression:   false,
			MemoryEntries: 4096,
		},
		Concurrency: runtime.NumCPU(),
		Plugins: Plugins{
			Lint: &LintOptions{
				Context:       "src",
				Exclude:       "node_modules",
				Cache:         true,
				CacheLocation: "node_modules/.cache/.lintcache",
				Rules: map[string]Severity{
					"no-debugger": SeverityError,
					"no-eval":     SeverityError,
					"no-alert":    SeverityWarn,
				},
			},
			HTML: &HTMLOptions{
				Template: "public/index.html",
				Filename: "index.html",
			},
			Preload: &PreloadOptions{
				Rel:     "preload",
				As:      "script",
				Include: PreloadAsyncChunks,
			},
			ServiceWorker: &ServiceWorkerOptions{
				Filename:     "service-worker.js",
				ClientsClaim: true,
				SkipWaiting:  true,
			},
		},
	}
}

// compilePattern compiles an optional pattern, returning nil for an empty one.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}
