package config

// Plugins holds the options of the built-in plugins. Plugins run in the
// order of the fields below.
type Plugins struct {
	Lint          *LintOptions          `yaml:"lint"`
	HTML          *HTMLOptions          `yaml:"html"`
	Preload       *PreloadOptions       `yaml:"preload"`
	ServiceWorker *ServiceWorkerOptions `yaml:"serviceWorker"`
	Compress      *CompressOptions      `yaml:"compress"`
}

type Severity string

const (
	SeverityOff   Severity = "off"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type LintOptions struct {
	// Context limits linting to modules under this directory
	Context string `yaml:"context"`
	// Exclude skips module IDs containing this path segment
	Exclude       string              `yaml:"exclude"`
	Rules         map[string]Severity `yaml:"rules"`
	Cache         bool                `yaml:"cache"`
	CacheLocation string              `yaml:"cacheLocation"`
	// Threads bounds parallel linting, zero uses the build concurrency
	Threads int `yaml:"threads"`
}

type HTMLOptions struct {
	// Template is an html/template file; empty uses the built-in page
	Template string `yaml:"template"`
	Filename string `yaml:"filename"`
	Title    string `yaml:"title"`
	// Entries limits injection to these entries, empty injects all
	Entries []string `yaml:"chunks"`
}

type PreloadInclude string

const (
	PreloadInitial     PreloadInclude = "initial"
	PreloadAsyncChunks PreloadInclude = "asyncChunks"
	PreloadAllChunks   PreloadInclude = "allChunks"
)

type PreloadOptions struct {
	Rel     string         `yaml:"rel"`
	As      string         `yaml:"as"`
	Include PreloadInclude `yaml:"include"`
}

type ServiceWorkerOptions struct {
	Filename     string `yaml:"swDest"`
	ClientsClaim bool   `yaml:"clientsClaim"`
	SkipWaiting  bool   `yaml:"skipWaiting"`
	// Exclude lists regular expressions of asset names left out of the precache
	Exclude                       []string `yaml:"exclude"`
	MaximumFileSizeToCacheInBytes int64    `yaml:"maximumFileSizeToCacheInBytes"`
}

type CompressOptions struct {
	// Algorithms lists gzip and/or zstd
	Algorithms []string `yaml:"algorithms"`
	// Test is a regular expression of asset names to compress
	Test      string  `yaml:"test"`
	Threshold int64   `yaml:"threshold"`
	MinRatio  float64 `yaml:"minRatio"`
}
