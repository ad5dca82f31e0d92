package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapgeo/citetrack/internal/platforms"
)

func mustPlatform(t *testing.T, def platforms.Definition) *platforms.PlatformConfig {
	t.Helper()
	reg, err := platforms.New(def)
	require.NoError(t, err)
	p, ok := reg.Lookup(def.Key)
	require.True(t, ok)
	return p
}

func defaultPlatform(t *testing.T, key string) *platforms.PlatformConfig {
	t.Helper()
	p, ok := platforms.Default().Lookup(key)
	require.True(t, ok, "platform %s not registered", key)
	return p
}

func TestExtract_NumberedCitations(t *testing.T) {
	p := mustPlatform(t, platforms.Definition{
		Key:              "test",
		Name:             "Test",
		CitationPatterns: []string{`\[(\d+)\]\s*(https?://[^\s\]]+)`},
	})

	got := Extract("[1] https://example.com/a\n[2] https://sample.org/b", p, "q")
	require.Len(t, got, 2)

	assert.Equal(t, "example.com", got[0].Source)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, "https://example.com/a", got[0].URL)

	assert.Equal(t, "sample.org", got[1].Source)
	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, "https://sample.org/b", got[1].URL)

	for _, c := range got {
		assert.Equal(t, "Test", c.Platform)
		assert.Equal(t, "q", c.Prompt)
	}
}

func TestExtract_EmptyContent(t *testing.T) {
	for _, key := range platforms.Default().Keys() {
		got := Extract("", defaultPlatform(t, key), "prompt")
		assert.NotNil(t, got, key)
		assert.Empty(t, got, key)
	}
}

func TestExtract_NilConfig(t *testing.T) {
	assert.Empty(t, Extract("[1] https://example.com", nil, "q"))
}

func TestExtract_FallbackToSourcePatterns(t *testing.T) {
	p := defaultPlatform(t, platforms.ChatGPT)

	content := "Try the mattress reviews at https://www.sleepfoundation.org/best-mattresses for details."
	got := Extract(content, p, "best cooling mattress")
	require.Len(t, got, 1)
	assert.Equal(t, "sleepfoundation.org", got[0].Source)
	assert.Equal(t, "https://www.sleepfoundation.org/best-mattresses", got[0].URL)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, content, got[0].Snippet)
}

func TestExtract_CitationPatternsTakePrecedence(t *testing.T) {
	p := defaultPlatform(t, platforms.ChatGPT)

	content := "See https://loose.example.net/page\n[1] https://strict.example.com/x"
	got := Extract(content, p, "q")
	require.Len(t, got, 1)
	assert.Equal(t, "strict.example.com", got[0].Source)
}

func TestExtract_PatternWithoutURLGroupUsesMatchText(t *testing.T) {
	p := defaultPlatform(t, platforms.You)

	got := Extract("[1] SweetNight official store\n", p, "q")
	require.Len(t, got, 1)
	assert.Equal(t, "[1] SweetNight official store\n", got[0].Source)
	assert.Empty(t, got[0].URL)
}

func TestExtract_NoCaptureGroups(t *testing.T) {
	p := mustPlatform(t, platforms.Definition{
		Key:              "plain",
		Name:             "Plain",
		CitationPatterns: []string{`sweetnight`},
	})

	got := Extract("We recommend SweetNight and sweetnight again", p, "q")
	require.Len(t, got, 2)
	assert.Equal(t, "SweetNight", got[0].Source)
	assert.Equal(t, "sweetnight", got[1].Source)
	assert.Empty(t, got[0].URL)
}

func TestExtract_OverlappingPatternsAreNotDeduplicated(t *testing.T) {
	p := defaultPlatform(t, platforms.Phind)

	// Both the numbered-title pattern and the markdown link pattern claim
	// the same span; each hit is kept as its own candidate.
	content := "[1](https://x.org/guide)"
	got := Extract(content, p, "q")
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, content, got[0].Source)
	assert.Empty(t, got[0].URL)

	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, "x.org", got[1].Source)
	assert.Equal(t, "https://x.org/guide", got[1].URL)
}

func TestExtract_SnippetWindow(t *testing.T) {
	p := mustPlatform(t, platforms.Definition{
		Key:              "w",
		Name:             "W",
		CitationPatterns: []string{`MARK`},
	})

	content := strings.Repeat("a", 150) + "MARK" + strings.Repeat("b", 150)
	got := Extract(content, p, "q")
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("a", 100)+"MARK"+strings.Repeat("b", 100), got[0].Snippet)
}

func TestExtract_SnippetCountsCharacters(t *testing.T) {
	p := mustPlatform(t, platforms.Definition{
		Key:              "u",
		Name:             "U",
		CitationPatterns: []string{`MARK`},
	})

	// "€" is three bytes wide; forty of them on each side fit the window.
	content := strings.Repeat("€", 40) + "MARK" + strings.Repeat("€", 40)
	got := Extract(content, p, "q")
	require.Len(t, got, 1)
	assert.True(t, utf8.ValidString(got[0].Snippet))
	assert.Equal(t, content, got[0].Snippet)
}

func TestExtract_SnippetWindowOnWideText(t *testing.T) {
	p := defaultPlatform(t, platforms.ChatGPT)

	content := strings.Repeat("床", 150) + " [1] https://example.com/a " + strings.Repeat("垫", 150)
	got := Extract(content, p, "q")
	require.Len(t, got, 1)
	assert.Equal(t, "example.com", got[0].Source)

	// The window holds the separating space plus 99 characters on each side.
	want := strings.Repeat("床", 99) + " [1] https://example.com/a " + strings.Repeat("垫", 99)
	assert.Equal(t, want, got[0].Snippet)
	assert.Equal(t, 99*2+utf8.RuneCountInString(" [1] https://example.com/a "), utf8.RuneCountInString(got[0].Snippet))
}

func TestExtract_CaseInsensitive(t *testing.T) {
	p := defaultPlatform(t, platforms.Gemini)

	got := Extract("SOURCES: https://Example.com/x", p, "q")
	require.Len(t, got, 1)
	assert.Equal(t, "Example.com", got[0].Source)
}

func TestExtract_PerPlatform(t *testing.T) {
	tests := []struct {
		platform string
		content  string
		sources  []string
	}{
		{
			platform: platforms.ChatGPT,
			content:  "Best picks [1] https://www.sweetnight.com/cool\nSource: https://reviews.org/m",
			sources:  []string{"sweetnight.com", "reviews.org"},
		},
		{
			platform: platforms.Claude,
			content:  "According to Wirecutter, https://nytimes.com/wirecutter/mattress",
			sources:  []string{"nytimes.com"},
		},
		{
			platform: platforms.Perplexity,
			content:  "[1][Cooling guide](https://sleepopolis.com/guide) and <sup>2</sup> https://www.casper.com/x",
			sources:  []string{"sleepopolis.com", "casper.com"},
		},
		{
			platform: platforms.Perplexity,
			content:  "Read [this review](https://www.tomsguide.com/r) first.",
			sources:  []string{"tomsguide.com"},
		},
		{
			platform: platforms.Gemini,
			content:  "[3] https://www.mattressclarity.com/a",
			sources:  []string{"mattressclarity.com"},
		},
		{
			platform: platforms.Copilot,
			content:  "[1]: https://bing.com/a\n[2](https://www.msn.com/b)",
			sources:  []string{"bing.com", "msn.com"},
		},
		{
			platform: platforms.MetaAI,
			content:  "[1] https://www.sweetnight.com",
			sources:  []string{"sweetnight.com"},
		},
		{
			platform: platforms.You,
			content:  "Source: https://www.sweetnight.com/p",
			sources:  []string{"sweetnight.com"},
		},
		{
			platform: platforms.Phind,
			content:  "Check [SweetNight](https://sweetnight.com) today",
			sources:  []string{"sweetnight.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			got := Extract(tt.content, defaultPlatform(t, tt.platform), "best cooling mattress")
			sources := make([]string, 0, len(got))
			for _, c := range got {
				sources = append(sources, c.Source)
			}
			assert.Equal(t, tt.sources, sources)
		})
	}
}
