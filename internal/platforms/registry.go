package platforms

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
)

// Platform keys accepted by the scanner
const (
	ChatGPT    = "chatgpt"
	Claude     = "claude"
	Perplexity = "perplexity"
	Gemini     = "gemini"
	Copilot    = "copilot"
	MetaAI     = "meta_ai"
	You        = "you"
	Phind      = "phind"
)

// PlatformConfig describes one AI assistant surface and how citations are
// recognised in its rendered answer. Values are never mutated after the
// registry is built, so a *PlatformConfig can be shared across goroutines.
type PlatformConfig struct {
	Key          string
	Name         string
	BaseURL      string
	SearchPath   string
	RequiresAuth bool

	// CitationPatterns are strict citation markers, tried first and in order.
	CitationPatterns []*regexp.Regexp
	// SourcePatterns are loose URL/link matchers used only when no citation
	// pattern matched anything.
	SourcePatterns []*regexp.Regexp
}

// SearchURL builds the page URL the scraping backend should load for prompt.
func (p *PlatformConfig) SearchURL(prompt string) string {
	return p.BaseURL + p.SearchPath + "?q=" + url.QueryEscape(prompt)
}

// Definition is the uncompiled form of a PlatformConfig.
type Definition struct {
	Key              string
	Name             string
	BaseURL          string
	SearchPath       string
	RequiresAuth     bool
	CitationPatterns []string
	SourcePatterns   []string
}

// Registry is a read-only catalog of platforms keyed by stable platform key.
type Registry struct {
	platforms map[string]*PlatformConfig
	keys      []string
}

// New compiles the given definitions into a Registry. Patterns are compiled
// case-insensitive and multi-line.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{platforms: make(map[string]*PlatformConfig, len(defs))}
	for _, d := range defs {
		if d.Key == "" {
			return nil, fmt.Errorf("platform definition %q has empty key", d.Name)
		}
		if _, dup := r.platforms[d.Key]; dup {
			return nil, fmt.Errorf("duplicate platform key %q", d.Key)
		}
		citation, err := compileAll(d.CitationPatterns)
		if err != nil {
			return nil, fmt.Errorf("platform %s citation patterns: %w", d.Key, err)
		}
		source, err := compileAll(d.SourcePatterns)
		if err != nil {
			return nil, fmt.Errorf("platform %s source patterns: %w", d.Key, err)
		}
		r.platforms[d.Key] = &PlatformConfig{
			Key:              d.Key,
			Name:             d.Name,
			BaseURL:          d.BaseURL,
			SearchPath:       d.SearchPath,
			RequiresAuth:     d.RequiresAuth,
			CitationPatterns: citation,
			SourcePatterns:   source,
		}
		r.keys = append(r.keys, d.Key)
	}
	sort.Strings(r.keys)
	return r, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Lookup returns the platform for key. The boolean is false for unknown keys.
func (r *Registry) Lookup(key string) (*PlatformConfig, bool) {
	p, ok := r.platforms[key]
	return p, ok
}

// Keys returns every registered platform key in sorted order. The returned
// slice is a copy.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of registered platforms.
func (r *Registry) Len() int { return len(r.keys) }

// Default returns the registry of the eight supported AI platforms.
func Default() *Registry {
	r, err := New(DefaultDefinitions()...)
	if err != nil {
		// The built-in catalog is static; a compile error here is a programming bug.
		panic(err)
	}
	return r
}
