package graph

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
)

const quoted = `('[^'\n]*'|"[^"\n]*")`

var (
	requireRe  = regexp.MustCompile(`(?:^|[^.\w$])require\(\s*` + quoted + `\s*\)`)
	lazyRe     = regexp.MustCompile(`(?:^|[^.\w$])(import\(\s*` + quoted + `\s*\))`)
	esmBareRe  = regexp.MustCompile(`(?m)^[ \t]*import[ \t]*` + quoted)
	esmFromRe  = regexp.MustCompile(`(?m)^[ \t]*(?:import|export)\b[^'";]*?\bfrom[ \t]*` + quoted)
	esmSyntax  = regexp.MustCompile(`(?m)^[ \t]*(?:import\b\s*[\w${*'"]|export\b\s*[\w${*])`)
	cssImport  = regexp.MustCompile(`@import\s+(?:url\(\s*)?('[^'\n]*'|"[^"\n]*"|[^'"\s;)]+)\s*\)?[^;]*;`)
	cssURL     = regexp.MustCompile(`url\(\s*('[^'\n]*'|"[^"\n]*"|[^'"\s)]+)\s*\)`)
	schemeLike = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// found is a reference located by the scanner before resolution.
type found struct {
	request string
	kind    RefKind
	start   int
	end     int
}

// scanScript finds require calls, ES import and export declarations and
// dynamic imports. Static spans cover the quoted specifier; lazy spans cover
// the whole import() expression. Matches are made against the masked code
// and specifiers read back from the original at the same offsets.
func scanScript(code []byte) []found {
	masked := MaskScript(code)

	var refs []found
	for _, m := range requireRe.FindAllSubmatchIndex(masked, -1) {
		refs = append(refs, literal(code, RefStatic, m[2], m[3]))
	}
	for _, re := range []*regexp.Regexp{esmBareRe, esmFromRe} {
		for _, m := range re.FindAllSubmatchIndex(masked, -1) {
			refs = append(refs, literal(code, RefStatic, m[2], m[3]))
		}
	}
	for _, m := range lazyRe.FindAllSubmatchIndex(masked, -1) {
		f := literal(code, RefLazy, m[4], m[5])
		f.start, f.end = m[2], m[3]
		refs = append(refs, f)
	}
	return sortFound(refs)
}

// hasModuleSyntax reports whether a script contains import or export
// declarations outside comments and strings.
func hasModuleSyntax(code []byte) bool {
	return esmSyntax.Match(MaskScript(code))
}

// MaskScript blanks the contents of comments and string literals, keeping
// quotes, newlines and byte offsets, so patterns run over the result only
// match code.
func MaskScript(src []byte) []byte {
	out := bytes.Clone(src)
	blank := func(from, to int) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}

	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '/':
			end := bytes.IndexByte(out[i:], '\n')
			if end < 0 {
				end = len(out) - i
			}
			blank(i, i+end)
			i += end
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '*':
			end := bytes.Index(out[i+2:], []byte("*/"))
			if end < 0 {
				blank(i, len(out))
				return out
			}
			blank(i, i+2+end+2)
			i += 2 + end + 1
		case out[i] == '\'' || out[i] == '"' || out[i] == '`':
			quote := out[i]
			j := i + 1
			for j < len(out) && out[j] != quote {
				if out[j] == '\\' {
					j++
				} else if out[j] == '\n' && quote != '`' {
					break
				}
				j++
			}
			blank(i+1, j)
			i = j
		}
	}
	return out
}

// scanStyle finds @import rules, whose spans cover the whole rule, and url()
// references to local files, whose spans cover the url argument.
func scanStyle(code []byte) []found {
	var refs []found
	var imports [][2]int
	for _, m := range cssImport.FindAllSubmatchIndex(code, -1) {
		req := unquote(string(code[m[2]:m[3]]))
		imports = append(imports, [2]int{m[0], m[1]})
		if external(req) {
			continue
		}
		refs = append(refs, found{request: req, kind: RefStatic, start: m[0], end: m[1]})
	}

	for _, m := range cssURL.FindAllSubmatchIndex(code, -1) {
		if within(imports, m[0]) {
			continue
		}
		req := unquote(string(code[m[2]:m[3]]))
		if external(req) {
			continue
		}
		refs = append(refs, found{request: req, kind: RefURL, start: m[2], end: m[3]})
	}
	return sortFound(refs)
}

func literal(code []byte, kind RefKind, start, end int) found {
	return found{request: unquote(string(code[start:end])), kind: kind, start: start, end: end}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// external reports requests that stay as written: data URLs, absolute URLs
// and fragment only references.
func external(req string) bool {
	return req == "" ||
		strings.HasPrefix(req, "#") ||
		strings.HasPrefix(req, "//") ||
		schemeLike.MatchString(req)
}

func within(spans [][2]int, pos int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

func sortFound(refs []found) []found {
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].start < refs[j].start })
	// drop overlaps so every span is rewritten at most once
	out := refs[:0]
	end := -1
	for _, r := range refs {
		if r.start < end {
			continue
		}
		out = append(out, r)
		end = r.end
	}
	return out
}
