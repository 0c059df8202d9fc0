package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var formats = map[string]api.Format{
	"cjs":  api.FormatCommonJS,
	"esm":  api.FormatESModule,
	"iife": api.FormatIIFE,
}

var engines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
	"node":    api.EngineNode,
}

var engineVersion = regexp.MustCompile(`^([a-z]+)([0-9][0-9.]*)$`)

// esbuildLoader lowers modern syntax, strips types and JSX, and converts ES
// modules to CommonJS so the emitted module registry can link them.
type esbuildLoader struct {
	target api.Target
	format api.Format
}

func newESBuild(options map[string]any) (Loader, error) {
	targetName, err := stringOption(options, "target", "es2015")
	if err != nil {
		return nil, err
	}
	target, ok := targets[strings.ToLower(targetName)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported target %q", ErrInvalidOptions, targetName)
	}

	formatName, err := stringOption(options, "format", "cjs")
	if err != nil {
		return nil, err
	}
	format, ok := formats[formatName]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidOptions, formatName)
	}

	return &esbuildLoader{target: target, format: format}, nil
}

func (l *esbuildLoader) Name() string { return "esbuild" }

func (l *esbuildLoader) Transform(_ context.Context, src Source) (Source, error) {
	result := api.Transform(string(src.Code), api.TransformOptions{
		Loader:     scriptLoader(src.Path),
		Target:     l.target,
		Format:     l.format,
		Sourcefile: src.Path,
		LogLevel:   api.LogLevelSilent,
		// keep import() so lazy references still start async chunks
		Supported: map[string]bool{"dynamic-import": true},
	})
	if len(result.Errors) > 0 {
		return Source{}, messagesError(result.Errors)
	}
	return Source{Path: src.Path, Code: result.Code}, nil
}

func scriptLoader(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// cssLoader validates stylesheets and lowers syntax such as nesting for the
// configured browsers.
type cssLoader struct {
	engines []api.Engine
}

func newCSS(options map[string]any) (Loader, error) {
	browsers, err := stringsOption(options, "browsers")
	if err != nil {
		return nil, err
	}

	l := &cssLoader{}
	for _, b := range browsers {
		m := engineVersion.FindStringSubmatch(strings.ToLower(b))
		if m == nil {
			return nil, fmt.Errorf("%w: browser %q must look like chrome90", ErrInvalidOptions, b)
		}
		name, ok := engines[m[1]]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported browser %q", ErrInvalidOptions, m[1])
		}
		l.engines = append(l.engines, api.Engine{Name: name, Version: m[2]})
	}
	return l, nil
}

func (l *cssLoader) Name() string { return "css" }

func (l *cssLoader) Transform(_ context.Context, src Source) (Source, error) {
	result := api.Transform(string(src.Code), api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    l.engines,
		Sourcefile: src.Path,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return Source{}, messagesError(result.Errors)
	}
	return Source{Path: src.Path, Code: result.Code}, nil
}

// Minify compresses a rendered chunk. Only whitespace and syntax are
// minified for CSS; scripts also get identifier mangling. When sourceMap is
// true the external map is returned alongside the code.
func Minify(code []byte, css bool, sourcefile string, sourceMap bool) ([]byte, []byte, error) {
	opts := api.TransformOptions{
		Loader:           api.LoaderJS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		Sourcefile:       sourcefile,
		LogLevel:         api.LogLevelSilent,
		LegalComments:    api.LegalCommentsNone,
	}
	if css {
		opts.Loader = api.LoaderCSS
	} else {
		opts.MinifyIdentifiers = true
	}
	if sourceMap {
		opts.Sourcemap = api.SourceMapExternal
	}

	result := api.Transform(string(code), opts)
	if len(result.Errors) > 0 {
		return nil, nil, messagesError(result.Errors)
	}
	return result.Code, result.Map, nil
}

func messagesError(msgs []api.Message) error {
	errs := make([]error, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location == nil {
			errs = append(errs, errors.New(msg.Text))
			continue
		}
		errs = append(errs, fmt.Errorf("%s:%d:%d: %s",
			msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
	}
	return errors.Join(errs...)
}
