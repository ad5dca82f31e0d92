package platforms

// Shared pattern fragments
const (
	numberedURL   = `\[(\d+)\]\s*(https?://[^\s\]]+)`
	bareURL       = `(https?://(?:www\.)?[a-zA-Z0-9-]+\.[a-zA-Z]{2,}[^\s]*)`
	markdownLink  = `\[([^\]]+)\]\((https?://[^\)]+)\)`
	numberedTitle = `\[(\d+)\]\s*([^\[]+)`
)

// DefaultDefinitions returns the built-in platform catalog. Pattern order
// matters: earlier patterns claim lower positions.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Key:          ChatGPT,
			Name:         "ChatGPT",
			BaseURL:      "https://chat.openai.com",
			SearchPath:   "/",
			RequiresAuth: true,
			CitationPatterns: []string{
				numberedURL,                   // [1] https://example.com
				`Source:\s*(https?://[^\s]+)`, // Source: https://example.com
			},
			SourcePatterns: []string{bareURL},
		},
		{
			Key:          Claude,
			Name:         "Claude",
			BaseURL:      "https://claude.ai",
			SearchPath:   "/new",
			RequiresAuth: true,
			CitationPatterns: []string{
				numberedURL,
				`According to\s+([^,]+),?\s+(https?://[^\s]+)`,
			},
			SourcePatterns: []string{bareURL},
		},
		{
			Key:          Perplexity,
			Name:         "Perplexity",
			BaseURL:      "https://www.perplexity.ai",
			SearchPath:   "/search",
			RequiresAuth: false,
			CitationPatterns: []string{
				`\[(\d+)\]\s*\[([^\]]+)\]\((https?://[^\)]+)\)`, // [1][Title](url)
				`<sup>(\d+)</sup>\s*(https?://[^\s]+)`,          // <sup>1</sup> url
			},
			SourcePatterns: []string{markdownLink},
		},
		{
			Key:          Gemini,
			Name:         "Google Gemini",
			BaseURL:      "https://gemini.google.com",
			SearchPath:   "/app",
			RequiresAuth: true,
			CitationPatterns: []string{
				numberedURL,
				`Sources?:\s*(https?://[^\s]+)`,
			},
			SourcePatterns: []string{bareURL},
		},
		{
			Key:          Copilot,
			Name:         "Microsoft Copilot",
			BaseURL:      "https://copilot.microsoft.com",
			SearchPath:   "/",
			RequiresAuth: false,
			CitationPatterns: []string{
				`\[(\d+)\]\s*:\s*(https?://[^\s\]]+)`,
				`\[(\d+)\]\((https?://[^\)]+)\)`,
			},
			SourcePatterns: []string{markdownLink},
		},
		{
			Key:              MetaAI,
			Name:             "Meta AI",
			BaseURL:          "https://www.meta.ai",
			SearchPath:       "/",
			RequiresAuth:     false,
			CitationPatterns: []string{numberedURL},
			SourcePatterns:   []string{bareURL},
		},
		{
			Key:          You,
			Name:         "You.com",
			BaseURL:      "https://you.com",
			SearchPath:   "/search",
			RequiresAuth: false,
			CitationPatterns: []string{
				numberedTitle,
				`Source:\s*([^\n]+)`,
			},
			SourcePatterns: []string{bareURL},
		},
		{
			Key:          Phind,
			Name:         "Phind",
			BaseURL:      "https://www.phind.com",
			SearchPath:   "/search",
			RequiresAuth: false,
			CitationPatterns: []string{
				numberedTitle,
				markdownLink,
			},
			SourcePatterns: []string{markdownLink},
		},
	}
}
