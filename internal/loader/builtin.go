package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// textLoader exports the file contents as a string.
type textLoader struct{}

func newText(map[string]any) (Loader, error) { return textLoader{}, nil }

func (textLoader) Name() string { return "text" }

func (textLoader) Transform(_ context.Context, src Source) (Source, error) {
	lit, err := json.Marshal(string(src.Code))
	if err != nil {
		return Source{}, err
	}
	return Source{Path: src.Path, Code: exportsOf(lit)}, nil
}

// jsonLoader validates JSON and exports the compacted document.
type jsonLoader struct{}

func newJSON(map[string]any) (Loader, error) { return jsonLoader{}, nil }

func (jsonLoader) Name() string { return "json" }

func (jsonLoader) Transform(_ context.Context, src Source) (Source, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, src.Code); err != nil {
		return Source{}, fmt.Errorf("invalid json: %w", err)
	}
	return Source{Path: src.Path, Code: exportsOf(buf.Bytes())}, nil
}

// replaceLoader substitutes every occurrence of a literal string.
type replaceLoader struct {
	search  []byte
	replace []byte
}

func newReplace(options map[string]any) (Loader, error) {
	search, err := stringOption(options, "search", "")
	if err != nil {
		return nil, err
	}
	if search == "" {
		return nil, fmt.Errorf("%w: search is required", ErrInvalidOptions)
	}
	replace, err := stringOption(options, "replace", "")
	if err != nil {
		return nil, err
	}
	return &replaceLoader{search: []byte(search), replace: []byte(replace)}, nil
}

func (l *replaceLoader) Name() string { return "replace" }

func (l *replaceLoader) Transform(_ context.Context, src Source) (Source, error) {
	return Source{Path: src.Path, Code: bytes.ReplaceAll(src.Code, l.search, l.replace)}, nil
}

func exportsOf(expr []byte) []byte {
	out := make([]byte, 0, len(expr)+20)
	out = append(out, "module.exports = "...)
	out = append(out, expr...)
	out = append(out, ";\n"...)
	return out
}
