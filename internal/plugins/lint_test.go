package plugins

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/cache"
	"github.com/wolfeidau/assetpipe/internal/config"
)

const lintedMain = `const b = require('./b');
// debugger
const s = "eval(x)";
console.log(s);
debugger;
alert(b);
window.alert(b);
`

var allRules = map[string]config.Severity{
	"no-debugger": config.SeverityError,
	"no-console":  config.SeverityWarn,
	"no-alert":    config.SeverityWarn,
	"no-eval":     config.SeverityError,
}

func TestLint_Findings(t *testing.T) {
	f := newFixture(t, config.Config{}, map[string]string{
		"src/main.js":               lintedMain + "require('../vendor/legacy');\nrequire('pkg');\n",
		"src/b.js":                  "module.exports = 1;\n",
		"vendor/legacy.js":          "debugger;\n",
		"node_modules/pkg/index.js": "eval('1');\n",
	})

	l, err := NewLint(f.cfg, config.LintOptions{Context: "src", Exclude: "node_modules", Rules: allRules})
	require.NoError(t, err)

	err = l.OnGraphBuilt(context.Background(), f.g)
	require.ErrorIs(t, err, ErrLintFailed)
	require.EqualError(t, err, "lint failed: 1 errors, 2 warnings")

	require.Equal(t, []Finding{
		{Module: "src/main.js", Line: 4, Column: 1, Rule: "no-console", Severity: config.SeverityWarn, Message: "Unexpected console statement."},
		{Module: "src/main.js", Line: 5, Column: 1, Rule: "no-debugger", Severity: config.SeverityError, Message: "Unexpected 'debugger' statement."},
		{Module: "src/main.js", Line: 6, Column: 1, Rule: "no-alert", Severity: config.SeverityWarn, Message: "Unexpected alert, confirm or prompt."},
	}, l.Findings())
}

func TestLint_Exclude(t *testing.T) {
	f := newFixture(t, config.Config{}, map[string]string{
		"src/main.js":               "require('pkg');\n",
		"node_modules/pkg/index.js": "eval('1');\n",
	})

	l, err := NewLint(f.cfg, config.LintOptions{Exclude: "node_modules", Rules: allRules})
	require.NoError(t, err)
	require.NoError(t, l.OnGraphBuilt(context.Background(), f.g))
	require.Empty(t, l.Findings())
}

func TestLint_WarningsPass(t *testing.T) {
	f := newFixture(t, config.Config{}, map[string]string{
		"src/main.js": "console.info('ready');\n",
	})

	l, err := NewLint(f.cfg, config.LintOptions{Rules: map[string]config.Severity{
		"no-console":  config.SeverityWarn,
		"no-debugger": config.SeverityOff,
	}})
	require.NoError(t, err)
	require.NoError(t, l.OnGraphBuilt(context.Background(), f.g))
	require.Len(t, l.Findings(), 1)
}

func TestLint_Cache(t *testing.T) {
	f := newFixture(t, config.Config{}, map[string]string{
		"src/main.js": "debugger;\n",
	})
	location := filepath.Join(t.TempDir(), ".lintcache")

	l, err := NewLint(f.cfg, config.LintOptions{Rules: allRules, Cache: true, CacheLocation: location})
	require.NoError(t, err)
	defer l.Close()

	require.ErrorIs(t, l.OnGraphBuilt(context.Background(), f.g), ErrLintFailed)
	first := l.Findings()
	require.ErrorIs(t, l.OnGraphBuilt(context.Background(), f.g), ErrLintFailed)

	require.Equal(t, first, l.Findings())
	require.Equal(t, cache.Stats{Hits: 1, Misses: 1}, l.store.Stats())
	require.DirExists(t, location)
}
