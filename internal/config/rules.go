package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleType selects how a matched module is treated.
type RuleType string

const (
	// RuleTypeAuto infers script or style from the file extension
	RuleTypeAuto RuleType = ""
	// RuleTypeJavaScript marks matched modules as scripts
	RuleTypeJavaScript RuleType = "javascript"
	// RuleTypeCSS marks matched modules as styles extracted into style chunks
	RuleTypeCSS RuleType = "css"
	// RuleTypeAsset inlines small files as data URLs and emits the rest
	RuleTypeAsset RuleType = "asset"
	// RuleTypeAssetResource always emits the file
	RuleTypeAssetResource RuleType = "asset/resource"
	// RuleTypeAssetInline always inlines the file as a data URL
	RuleTypeAssetInline RuleType = "asset/inline"
	// RuleTypeAssetSource exports the file contents as a string
	RuleTypeAssetSource RuleType = "asset/source"
)

// IsAsset reports whether modules of this type are emitted as assets.
func (t RuleType) IsAsset() bool {
	return strings.HasPrefix(string(t), "asset")
}

// Rule maps a file predicate to an ordered loader chain.
type Rule struct {
	// Test is a regular expression matched against the module ID
	Test string `yaml:"test"`
	// Include restricts the rule to module IDs under these directories
	Include []string `yaml:"include"`
	// Exclude is a regular expression; matching module IDs are skipped
	Exclude   string       `yaml:"exclude"`
	Type      RuleType     `yaml:"type"`
	Use       []LoaderSpec `yaml:"use"`
	Parser    Parser       `yaml:"parser"`
	Generator Generator    `yaml:"generator"`

	test    *regexp.Regexp
	exclude *regexp.Regexp
}

type Parser struct {
	DataURLCondition DataURLCondition `yaml:"dataUrlCondition"`
}

type DataURLCondition struct {
	MaxSize int64 `yaml:"maxSize"`
}

type Generator struct {
	Filename string `yaml:"filename"`
}

func (r *Rule) compile() error {
	if r.Test == "" {
		return fmt.Errorf("test is required")
	}

	var err error
	if r.test, err = compilePattern(r.Test); err != nil {
		return fmt.Errorf("test: %w", err)
	}
	if r.exclude, err = compilePattern(r.Exclude); err != nil {
		return fmt.Errorf("exclude: %w", err)
	}

	switch r.Type {
	case RuleTypeAuto, RuleTypeJavaScript, RuleTypeCSS, RuleTypeAsset,
		RuleTypeAssetResource, RuleTypeAssetInline, RuleTypeAssetSource:
	default:
		return fmt.Errorf("unknown type %q", r.Type)
	}

	include := make([]string, len(r.Include))
	for i, inc := range r.Include {
		include[i] = strings.TrimSuffix(path.Clean(strings.TrimPrefix(inc, "./")), "/")
	}
	r.Include = include
	return nil
}

// Match reports whether the rule applies to the module ID (a slash separated
// path relative to the context root).
func (r *Rule) Match(id string) bool {
	if r.test == nil || !r.test.MatchString(id) {
		return false
	}
	if r.exclude != nil && r.exclude.MatchString(id) {
		return false
	}
	if len(r.Include) == 0 {
		return true
	}
	for _, inc := range r.Include {
		if inc == "." || id == inc || strings.HasPrefix(id, inc+"/") {
			return true
		}
	}
	return false
}

// MatchRule returns the index of the first rule matching id, or -1.
func (c *Config) MatchRule(id string) int {
	for i := range c.Rules {
		if c.Rules[i].Match(id) {
			return i
		}
	}
	return -1
}

// LoaderSpec names a loader and its options. In YAML it is either a plain
// loader name or a mapping with loader and options keys.
type LoaderSpec struct {
	Name    string         `yaml:"loader"`
	Options map[string]any `yaml:"options"`
}

func (l *LoaderSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		l.Name = node.Value
		return nil
	}

	type plain LoaderSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = LoaderSpec(p)
	return nil
}

type Entry struct {
	Name string
	Path string
}

// Entries keeps entry points in declaration order.
type Entries []Entry

func (e *Entries) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = Entries{{Name: "main", Path: node.Value}}
		return nil
	case yaml.MappingNode:
		out := make(Entries, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			out = append(out, Entry{Name: node.Content[i].Value, Path: node.Content[i+1].Value})
		}
		*e = out
		return nil
	default:
		return fmt.Errorf("line %d: entry must be a path or a mapping of name to path", node.Line)
	}
}

func (e Entries) MarshalYAML() (any, error) {
	if len(e) == 1 && e[0].Name == "main" {
		return e[0].Path, nil
	}
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, entry := range e {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Path},
		)
	}
	return node, nil
}

// Lookup returns the entry with the given name.
func (e Entries) Lookup(name string) (Entry, bool) {
	for _, entry := range e {
		if entry.Name == name {
			return entry, true
		}
	}
	return Entry{}, false
}
