package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
	"github.com/leapgeo/citetrack/internal/extract"
	"github.com/leapgeo/citetrack/internal/platforms"
	"github.com/leapgeo/citetrack/internal/scrape"
)

type stubScraper struct {
	mu      sync.Mutex
	pages   map[string]string
	fail    map[string]bool
	panics  map[string]bool
	urls    map[string]string
	ctxErrs []error
}

func newStubScraper() *stubScraper {
	return &stubScraper{
		pages:  map[string]string{},
		fail:   map[string]bool{},
		panics: map[string]bool{},
		urls:   map[string]string{},
	}
}

func (s *stubScraper) Fetch(ctx context.Context, platform, targetURL, waitFor string) (*scrape.Page, error) {
	s.mu.Lock()
	s.urls[platform] = targetURL
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	page, fail, boom := s.pages[platform], s.fail[platform], s.panics[platform]
	s.mu.Unlock()

	if boom {
		panic("scraper exploded on " + platform)
	}
	if fail {
		return nil, &scrape.Failure{Platform: platform, Reason: "non-success response", StatusCode: 403}
	}
	return &scrape.Page{Markdown: page}, nil
}

type stubSink struct {
	mu       sync.Mutex
	calls    int
	reject   int
	err      error
	received []extract.Candidate
}

func (s *stubSink) SaveCitations(ctx context.Context, projectID string, candidates []extract.Candidate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	s.received = append(s.received, candidates...)
	saved := len(candidates) - s.reject
	if saved < 0 {
		saved = 0
	}
	return saved, nil
}

func newOrchestrator(t *testing.T, scraper Scraper, sink Sink) *Orchestrator {
	t.Helper()
	fixed := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)
	return New(platforms.Default(), scraper, sink, zaptest.NewLogger(t), WithClock(func() time.Time { return fixed }))
}

func TestScanAll_SingleRecognisedCitation(t *testing.T) {
	scraper := newStubScraper()
	scraper.pages[platforms.You] = "Top picks for hot sleepers:\n[1] SweetNight cooling mattress\n"
	sink := &stubSink{}

	summary, err := newOrchestrator(t, scraper, sink).ScanAll(context.Background(), ScanRequest{
		Prompt:    "best cooling mattress",
		ProjectID: "sweetnight",
		Platforms: []string{platforms.You},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PlatformsScanned)
	assert.Equal(t, StatusSuccess, summary.ResultsByPlatform[platforms.You].Status)
	assert.Equal(t, "You.com", summary.ResultsByPlatform[platforms.You].Name)
	assert.Equal(t, 1, summary.TotalCitations)
	assert.Equal(t, 1, summary.CitationsSaved)
	assert.Equal(t, "best cooling mattress", summary.Prompt)
	assert.Equal(t, "sweetnight", summary.ProjectID)
	assert.Equal(t, time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC), summary.Timestamp)
	assert.Equal(t, "https://you.com/search?q=best+cooling+mattress", scraper.urls[platforms.You])
	require.Len(t, sink.received, 1)
	assert.Equal(t, "You.com", sink.received[0].Platform)
}

func TestScanAll_UnknownPlatformTolerated(t *testing.T) {
	scraper := newStubScraper()
	scraper.pages[platforms.ChatGPT] = "[1] https://example.com/a"

	summary, err := newOrchestrator(t, scraper, &stubSink{}).ScanAll(context.Background(), ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.ChatGPT, "unknown_platform_xyz"},
	})
	require.NoError(t, err)

	unknown, ok := summary.ResultsByPlatform["unknown_platform_xyz"]
	require.True(t, ok)
	assert.Equal(t, 0, unknown.CitationsFound)
	assert.Equal(t, StatusNoCitations, unknown.Status)
	assert.Equal(t, "unknown_platform_xyz", unknown.Name)
	assert.Equal(t, 2, summary.PlatformsScanned)
	assert.Equal(t, 1, summary.TotalCitations)
}

func TestScanAll_EveryScrapeFails(t *testing.T) {
	scraper := newStubScraper()
	for _, key := range platforms.Default().Keys() {
		scraper.fail[key] = true
	}
	sink := &stubSink{err: errors.New("should not be reached")}

	summary, err := newOrchestrator(t, scraper, sink).ScanAll(context.Background(), ScanRequest{Prompt: "q", ProjectID: "p"})
	require.NoError(t, err)

	assert.Equal(t, 8, summary.PlatformsScanned)
	assert.Equal(t, 0, summary.TotalCitations)
	assert.Equal(t, 0, summary.CitationsSaved)
	assert.Equal(t, 0, sink.calls)
	for key, outcome := range summary.ResultsByPlatform {
		assert.Equal(t, StatusError, outcome.Status, key)
		assert.Contains(t, outcome.Error, "non-success response", key)
	}
}

func TestScanAll_PartialPersistence(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "[%d] https://site%d.example.com/p\n", i, i)
	}
	scraper := newStubScraper()
	scraper.pages[platforms.ChatGPT] = b.String()
	sink := &stubSink{reject: 2}

	summary, err := newOrchestrator(t, scraper, sink).ScanAll(context.Background(), ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.ChatGPT},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalCitations)
	assert.Equal(t, 3, summary.CitationsSaved)
	assert.Len(t, sink.received, 5)
}

func TestScanAll_PersistenceUnavailable(t *testing.T) {
	scraper := newStubScraper()
	scraper.pages[platforms.MetaAI] = "[1] https://www.sweetnight.com"
	sink := &stubSink{err: errors.New("dial tcp: connection refused")}

	summary, err := newOrchestrator(t, scraper, sink).ScanAll(context.Background(), ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.MetaAI},
	})
	assert.Nil(t, summary)
	require.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestScanAll_PanicIsolatedToPlatform(t *testing.T) {
	scraper := newStubScraper()
	scraper.panics[platforms.Claude] = true
	scraper.pages[platforms.Gemini] = "Sources: https://www.mattressclarity.com/a"

	summary, err := newOrchestrator(t, scraper, &stubSink{}).ScanAll(context.Background(), ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.Claude, platforms.Gemini},
	})
	require.NoError(t, err)

	claude := summary.ResultsByPlatform[platforms.Claude]
	assert.Equal(t, StatusError, claude.Status)
	assert.Contains(t, claude.Error, "scraper exploded")
	assert.Equal(t, 0, claude.CitationsFound)

	gemini := summary.ResultsByPlatform[platforms.Gemini]
	assert.Equal(t, StatusSuccess, gemini.Status)
	assert.Equal(t, 1, summary.TotalCitations)
}

func TestScanAll_EmptyPageIsNoCitations(t *testing.T) {
	scraper := newStubScraper()
	scraper.pages[platforms.Phind] = "Nothing relevant here."

	summary, err := newOrchestrator(t, scraper, &stubSink{}).ScanAll(context.Background(), ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.Phind, platforms.Copilot},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoCitations, summary.ResultsByPlatform[platforms.Phind].Status)
	assert.Equal(t, StatusNoCitations, summary.ResultsByPlatform[platforms.Copilot].Status)
}

func TestScanAll_DuplicatePlatformsScannedOnce(t *testing.T) {
	scraper := newStubScraper()
	summary, err := newOrchestrator(t, scraper, &stubSink{}).ScanAll(context.Background(), ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.You, platforms.You},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PlatformsScanned)
	assert.Len(t, scraper.ctxErrs, 1)
}

func TestScanAll_InvalidRequest(t *testing.T) {
	o := newOrchestrator(t, newStubScraper(), &stubSink{})

	_, err := o.ScanAll(context.Background(), ScanRequest{ProjectID: "p"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.ScanAll(context.Background(), ScanRequest{Prompt: "q", ProjectID: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestScanAll_CallerCancellationDoesNotAbortScans(t *testing.T) {
	scraper := newStubScraper()
	scraper.pages[platforms.ChatGPT] = "[1] https://example.com/a"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newOrchestrator(t, scraper, &stubSink{}).ScanAll(ctx, ScanRequest{
		Prompt:    "q",
		ProjectID: "p",
		Platforms: []string{platforms.ChatGPT},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CitationsSaved)
	for _, e := range scraper.ctxErrs {
		assert.NoError(t, e)
	}
}

// barrierScraper only answers once every platform has an in-flight request.
type barrierScraper struct {
	want    int32
	arrived atomic.Int32
	all     chan struct{}
	once    sync.Once
}

func (b *barrierScraper) Fetch(ctx context.Context, platform, targetURL, waitFor string) (*scrape.Page, error) {
	if b.arrived.Add(1) == b.want {
		b.once.Do(func() { close(b.all) })
	}
	select {
	case <-b.all:
		return &scrape.Page{Markdown: "[1] https://" + platform + ".example.com"}, nil
	case <-time.After(2 * time.Second):
		return nil, &scrape.Failure{Platform: platform, Reason: "platforms were not scanned concurrently"}
	}
}

func TestScanAll_PlatformsRunConcurrently(t *testing.T) {
	keys := platforms.Default().Keys()
	scraper := &barrierScraper{want: int32(len(keys)), all: make(chan struct{})}

	summary, err := newOrchestrator(t, scraper, &stubSink{}).ScanAll(context.Background(), ScanRequest{Prompt: "q", ProjectID: "p"})
	require.NoError(t, err)
	for _, key := range keys {
		assert.Equal(t, StatusSuccess, summary.ResultsByPlatform[key].Status, key)
	}
}

func TestScanPlatform_ReturnsFailureAsData(t *testing.T) {
	scraper := newStubScraper()
	scraper.fail[platforms.Perplexity] = true

	got, err := newOrchestrator(t, scraper, &stubSink{}).ScanPlatform(context.Background(), platforms.Perplexity, "q", "p")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	var failure *scrape.Failure
	assert.ErrorAs(t, err, &failure)
}

func TestScanAll_PlatformBreakerIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if strings.Contains(body.URL, "openai") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"[1] SweetNight cooling mattress\n"}}`))
	}))
	defer srv.Close()

	settings := circuitbreaker.Settings{FailureThreshold: 3, Window: time.Minute, Cooldown: time.Minute, MaxProbes: 1, RecoveryThreshold: 1}
	scraper := scrape.NewGuarded(scrape.Config{Endpoint: srv.URL, Timeout: 2 * time.Second}, srv.Client(), settings, nil, zaptest.NewLogger(t))
	o := newOrchestrator(t, scraper, &stubSink{})

	for i := 0; i < 8; i++ {
		summary, err := o.ScanAll(context.Background(), ScanRequest{Prompt: "q", ProjectID: "p", Platforms: []string{platforms.ChatGPT}})
		require.NoError(t, err)
		assert.Equal(t, StatusError, summary.ResultsByPlatform[platforms.ChatGPT].Status)
	}

	summary, err := o.ScanAll(context.Background(), ScanRequest{Prompt: "q", ProjectID: "p", Platforms: []string{platforms.You}})
	require.NoError(t, err)
	you := summary.ResultsByPlatform[platforms.You]
	assert.Equal(t, StatusSuccess, you.Status, you.Error)
	assert.Equal(t, 1, you.CitationsFound)
}
