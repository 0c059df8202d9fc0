package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/assetpipe/internal/cache"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/graph"
	"github.com/wolfeidau/assetpipe/internal/hooks"
)

type lintRule struct {
	// pattern's first group marks the reported position
	pattern *regexp.Regexp
	message string
}

var lintRules = map[string]lintRule{
	"no-debugger": {
		pattern: regexp.MustCompile(`\b(debugger)\b`),
		message: "Unexpected 'debugger' statement.",
	},
	"no-console": {
		pattern: regexp.MustCompile(`\b(console)\s*\.\s*[A-Za-z_$][\w$]*\s*\(`),
		message: "Unexpected console statement.",
	},
	"no-alert": {
		pattern: regexp.MustCompile(`(?:^|[^.\w$])(alert|confirm|prompt)\s*\(`),
		message: "Unexpected alert, confirm or prompt.",
	},
	"no-eval": {
		pattern: regexp.MustCompile(`(?:^|[^.\w$])(eval)\s*\(`),
		message: "eval can be harmful.",
	},
}

var lintExtensions = map[string]bool{
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true, ".ts": true, ".tsx": true,
}

// Finding is one lint problem in a module's source.
type Finding struct {
	Module   string          `json:"module"`
	Line     int             `json:"line"`
	Column   int             `json:"column"`
	Rule     string          `json:"rule"`
	Severity config.Severity `json:"severity"`
	Message  string          `json:"message"`
}

// Lint checks the original source of script modules under the lint context
// once the module graph is built. Any finding with error severity fails the
// build.
type Lint struct {
	hooks.Base

	prefix  string
	exclude string
	rules   []string
	levels  map[string]config.Severity
	threads int
	store   *cache.Store
	// fingerprint is mixed into cache keys so rule changes invalidate results
	fingerprint []byte

	mu       sync.Mutex
	findings []Finding
}

func NewLint(cfg *config.Config, opts config.LintOptions) (*Lint, error) {
	l := &Lint{
		exclude: opts.Exclude,
		levels:  map[string]config.Severity{},
		threads: opts.Threads,
	}
	if l.threads <= 0 {
		l.threads = cfg.Concurrency
	}

	if opts.Context != "" {
		l.prefix = cfg.Rel(contextPath(cfg, opts.Context))
		if l.prefix == "." {
			l.prefix = ""
		}
	}

	for name, severity := range opts.Rules {
		if _, ok := lintRules[name]; !ok {
			return nil, fmt.Errorf("%w: unknown lint rule %q", ErrInvalidOptions, name)
		}
		switch severity {
		case config.SeverityOff:
			continue
		case config.SeverityWarn, config.SeverityError:
		default:
			return nil, fmt.Errorf("%w: rule %s has severity %q, want off, warn or error", ErrInvalidOptions, name, severity)
		}
		l.rules = append(l.rules, name)
		l.levels[name] = severity
	}
	sort.Strings(l.rules)

	var fp strings.Builder
	for _, name := range l.rules {
		fmt.Fprintf(&fp, "%s=%s;", name, l.levels[name])
	}
	l.fingerprint = []byte(fp.String())

	if opts.Cache {
		dir := ""
		if opts.CacheLocation != "" {
			dir = contextPath(cfg, opts.CacheLocation)
		}
		store, err := cache.New(cache.Config{Directory: dir})
		if err != nil {
			return nil, err
		}
		l.store = store
	}

	return l, nil
}

func (l *Lint) Name() string { return "lint" }

func (l *Lint) Close() error {
	return l.store.Close()
}

// Findings returns the problems reported by the last run, ordered by module
// and position.
func (l *Lint) Findings() []Finding {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Finding(nil), l.findings...)
}

func (l *Lint) OnGraphBuilt(ctx context.Context, g *graph.Graph) error {
	if len(l.rules) == 0 {
		return nil
	}

	l.mu.Lock()
	l.findings = nil
	l.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.threads)

	var checked int
	for _, id := range g.IDs() {
		m, _ := g.Module(id)
		if !l.applies(m) {
			continue
		}
		checked++
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			found, err := l.check(m)
			if err != nil {
				return err
			}
			l.mu.Lock()
			l.findings = append(l.findings, found...)
			l.mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	l.mu.Lock()
	findings := l.findings
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Module != findings[j].Module {
			return findings[i].Module < findings[j].Module
		}
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Column < findings[j].Column
	})
	l.mu.Unlock()

	var errs, warnings int
	for _, f := range findings {
		event := log.Warn()
		if f.Severity == config.SeverityError {
			event = log.Error()
			errs++
		} else {
			warnings++
		}
		event.Str("module", f.Module).
			Int("line", f.Line).
			Int("column", f.Column).
			Str("rule", f.Rule).
			Msg(f.Message)
	}

	log.Info().Int("modules", checked).Int("errors", errs).Int("warnings", warnings).Msg("Lint complete")

	if errs > 0 {
		return fmt.Errorf("%w: %d errors, %d warnings", ErrLintFailed, errs, warnings)
	}
	return nil
}

func (l *Lint) applies(m *graph.Module) bool {
	if m.Kind != graph.KindScript || !lintExtensions[strings.ToLower(path.Ext(m.ID))] {
		return false
	}
	if l.prefix != "" && m.ID != l.prefix && !strings.HasPrefix(m.ID, l.prefix+"/") {
		return false
	}
	if l.exclude != "" {
		for _, segment := range strings.Split(m.ID, "/") {
			if segment == l.exclude {
				return false
			}
		}
	}
	return true
}

func (l *Lint) check(m *graph.Module) ([]Finding, error) {
	key := cache.Key(l.fingerprint, []byte(m.ID), m.Source)
	if data, ok := l.store.Get(key); ok {
		var cached []Finding
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	found := lintSource(m.ID, m.Source, l.rules, l.levels)

	data, err := json.Marshal(found)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lint results: %w", err)
	}
	if err := l.store.Put(key, data); err != nil {
		log.Warn().Err(err).Str("module", m.ID).Msg("Failed to cache lint results")
	}
	return found, nil
}

func lintSource(id string, src []byte, rules []string, levels map[string]config.Severity) []Finding {
	code := graph.MaskScript(src)
	lines := lineStarts(code)

	found := []Finding{}
	for _, name := range rules {
		rule := lintRules[name]
		for _, loc := range rule.pattern.FindAllSubmatchIndex(code, -1) {
			line, col := position(lines, loc[2])
			found = append(found, Finding{
				Module:   id,
				Line:     line,
				Column:   col,
				Rule:     name,
				Severity: levels[name],
				Message:  rule.message,
			})
		}
	}
	return found
}

func lineStarts(code []byte) []int {
	starts := []int{0}
	for i, c := range code {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// position converts a byte offset to a 1-based line and column.
func position(starts []int, offset int) (int, int) {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	return i + 1, offset - starts[i] + 1
}
