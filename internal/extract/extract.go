// Package extract turns scraped AI-assistant answers into ranked citation
// candidates using a platform's pattern cascade.
package extract

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/leapgeo/citetrack/internal/platforms"
)

// snippetRadius is the number of characters of context kept on each side of a match.
const snippetRadius = 100

// Candidate is one piece of citation evidence found in a platform response.
type Candidate struct {
	Platform string `json:"platform"`
	Prompt   string `json:"prompt"`
	Source   string `json:"source"`
	Position int    `json:"position"`
	Snippet  string `json:"snippet"`
	URL      string `json:"url,omitempty"`
}

// Extract scans content with cfg's citation patterns and, only when none of
// them match, with its source patterns. Positions start at 1 and increase in
// emission order. Overlapping hits from different patterns are all kept.
func Extract(content string, cfg *platforms.PlatformConfig, prompt string) []Candidate {
	if content == "" || cfg == nil {
		return []Candidate{}
	}

	out := make([]Candidate, 0)
	position := 1

	for _, re := range cfg.CitationPatterns {
		for _, loc := range re.FindAllStringSubmatchIndex(content, -1) {
			match := content[loc[0]:loc[1]]
			link := firstURLGroup(content, loc)

			source := match
			if link != "" {
				source = link
				if host := hostOf(link); host != "" {
					source = host
				}
			}

			out = append(out, Candidate{
				Platform: cfg.Name,
				Prompt:   prompt,
				Source:   source,
				Position: position,
				Snippet:  snippet(content, loc[0], loc[1]),
				URL:      link,
			})
			position++
		}
	}

	if len(out) > 0 {
		return out
	}

	for _, re := range cfg.SourcePatterns {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			link := content[loc[0]:loc[1]]
			source := hostOf(link)
			if source == "" {
				source = link
			}

			out = append(out, Candidate{
				Platform: cfg.Name,
				Prompt:   prompt,
				Source:   source,
				Position: position,
				Snippet:  snippet(content, loc[0], loc[1]),
				URL:      link,
			})
			position++
		}
	}

	return out
}

// firstURLGroup returns the first participating capture group that starts
// with "http", or "" when no group does.
func firstURLGroup(content string, loc []int) string {
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] < 0 {
			continue
		}
		g := content[loc[i]:loc[i+1]]
		if strings.HasPrefix(g, "http") {
			return g
		}
	}
	return ""
}

var schemeHost = regexp.MustCompile(`^https?://(?:www\.)?([^/?#\s]+)`)

// hostOf returns the host of raw without a leading "www.". Markdown link
// spans such as "[Title](https://x.org)" resolve through the embedded URL.
func hostOf(raw string) string {
	if i := strings.Index(raw, "](http"); i >= 0 {
		raw = strings.TrimSuffix(raw[i+2:], ")")
	}
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return strings.TrimPrefix(u.Hostname(), "www.")
	}
	if m := schemeHost.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

func snippet(content string, start, end int) string {
	from := start
	for i := 0; i < snippetRadius && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(content[:from])
		from -= size
	}
	to := end
	for i := 0; i < snippetRadius && to < len(content); i++ {
		_, size := utf8.DecodeRuneInString(content[to:])
		to += size
	}
	return strings.TrimSpace(content[from:to])
}
