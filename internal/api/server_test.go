package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/clock/system"
	"github.com/pagelift/monetizer/internal/hash/sha256"
	"github.com/pagelift/monetizer/internal/id/uuid"
	"github.com/pagelift/monetizer/internal/intel"
	"github.com/pagelift/monetizer/internal/monetize"
	"github.com/pagelift/monetizer/internal/pipeline"
	"github.com/pagelift/monetizer/internal/publish"
	"github.com/pagelift/monetizer/internal/sitemap"
	"github.com/pagelift/monetizer/internal/storage/postgres"
)

type stubFetcher struct{}

func (stubFetcher) FetchByURL(_ context.Context, url string) (monetize.FetchedPage, error) {
	return monetize.FetchedPage{PostID: 7, HTML: "<p>Our favorite mug survived a month of commutes.</p>"}, nil
}

func (stubFetcher) FetchByPostID(context.Context, monetize.CMSConfig, int, string) (monetize.FetchedPage, error) {
	return monetize.FetchedPage{PostID: 7, HTML: "<p>editable</p>"}, nil
}

type stubIntel struct{ res intel.Result }

func (s stubIntel) Analyze(context.Context, string, string, intel.AnalyzeOptions) intel.Result {
	return s.res
}

type stubGateway struct{}

func (stubGateway) Publish(_ context.Context, cms monetize.CMSConfig, postID int, _ string) (string, error) {
	return fmt.Sprintf("%s/?p=%d", cms.BaseURL, postID), nil
}

type stubLoader struct {
	entries []sitemap.Entry
	err     error
}

func (s stubLoader) Load(context.Context, string) ([]sitemap.Entry, error) {
	return s.entries, s.err
}

type stubProber struct{ result publish.ProbeResult }

func (s stubProber) Probe(context.Context, monetize.CMSConfig) publish.ProbeResult {
	return s.result
}

type stubRunReader struct {
	run   postgres.RunRow
	pages []postgres.PageRow
	err   error
}

func (s stubRunReader) GetRun(context.Context, string) (postgres.RunRow, []postgres.PageRow, error) {
	return s.run, s.pages, s.err
}

func newTestOrchestrator(res intel.Result) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Config{
		CMS:          monetize.CMSConfig{BaseURL: "https://blog.example"},
		AffiliateTag: "blogexample-20",
	}, pipeline.Deps{
		Fetcher:      stubFetcher{},
		Intelligence: stubIntel{res: res},
		Gateway:      stubGateway{},
		Hasher:       sha256.New(),
		Clock:        system.New(),
		IDs:          uuid.NewGenerator(),
		Logger:       zap.NewNop(),
	})
}

type serverOptions struct {
	cfg    Config
	loader SitemapLoader
	prober Prober
	runs   RunReader
	orch   *pipeline.Orchestrator
}

func newTestServer(t *testing.T, opts serverOptions) *httptest.Server {
	t.Helper()
	if opts.orch == nil {
		opts.orch = newTestOrchestrator(intel.Result{})
	}
	if opts.loader == nil {
		opts.loader = stubLoader{}
	}
	if opts.prober == nil {
		opts.prober = stubProber{result: publish.ProbeResult{OK: true}}
	}
	srv := NewServer(context.Background(), opts.cfg, opts.orch,
		opts.loader, opts.prober, opts.runs, prometheus.NewRegistry(), zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getBody(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string) (int, string) {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, readAll(t, resp)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})

	status, body := getBody(t, ts, "/healthz")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"ok"`)

	status, _ = getBody(t, ts, "/readyz")
	require.Equal(t, http.StatusOK, status)

	status, _ = getBody(t, ts, "/metrics")
	require.Equal(t, http.StatusOK, status)
}

func TestTriageLoadsSitemapAndScans(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{
		loader: stubLoader{entries: []sitemap.Entry{
			{URL: "https://blog.example/best-mugs/", Title: "Best Mugs 2026"},
			{URL: "https://blog.example/about/", Title: "About Us"},
		}},
	})

	status, body := postJSON(t, ts, "/v1/triage", `{"sitemap_url":"https://blog.example/sitemap.xml"}`)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"added":2`)
	require.Contains(t, body, `"deep_scanned":1`)

	status, body = getBody(t, ts, "/v1/state")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"total":2`)
	require.Contains(t, body, "best-mugs")
}

func TestTriageRequiresSitemapURL(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})
	status, body := postJSON(t, ts, "/v1/triage", `{}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "sitemap_url")
}

func TestTriageSitemapFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{
		loader: stubLoader{err: fmt.Errorf("not a sitemap")},
	})
	status, _ := postJSON(t, ts, "/v1/triage", `{"sitemap_url":"https://blog.example/sitemap.xml"}`)
	require.Equal(t, http.StatusBadGateway, status)
}

func TestStartRunReturnsRunID(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(intel.Result{
		Product:    monetize.ProductCandidate{ASIN: "B0MUGMUGMU", Title: "Mug"},
		Confidence: 50,
	})
	ts := newTestServer(t, serverOptions{
		orch: orch,
		loader: stubLoader{entries: []sitemap.Entry{
			{URL: "https://blog.example/best-mugs/", Title: "Best Mugs 2026"},
		}},
	})

	status, body := postJSON(t, ts, "/v1/runs/", `{"sitemap_url":"https://blog.example/sitemap.xml"}`)
	require.Equal(t, http.StatusAccepted, status)
	require.Contains(t, body, "run_id")

	require.Eventually(t, func() bool { return !orch.Running() }, 2*time.Second, 10*time.Millisecond)

	rec, ok := orch.Page("https://blog.example/best-mugs/")
	require.True(t, ok)
	require.Equal(t, monetize.PilotFound, rec.Pilot)
}

func TestStopRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})
	status, body := postJSON(t, ts, "/v1/runs/stop", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "stopping")
}

func TestAnalyzeUnknownPage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})
	status, _ := postJSON(t, ts, "/v1/pages/analyze", `{"url":"https://blog.example/ghost/"}`)
	require.Equal(t, http.StatusNotFound, status)
}

func TestPublishRequiresURL(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})
	status, _ := postJSON(t, ts, "/v1/pages/publish", `{}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestGetRunHistory(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})
	status, _ := getBody(t, ts, "/v1/runs/some-id")
	require.Equal(t, http.StatusNotImplemented, status)

	ts = newTestServer(t, serverOptions{
		runs: stubRunReader{err: postgres.ErrRunNotFound},
	})
	status, _ = getBody(t, ts, "/v1/runs/ghost")
	require.Equal(t, http.StatusNotFound, status)

	ts = newTestServer(t, serverOptions{
		runs: stubRunReader{
			run:   postgres.RunRow{ID: "run-1", Total: 3},
			pages: []postgres.PageRow{{RunID: "run-1", URL: "https://blog.example/best-mugs/", Outcome: "published"}},
		},
	})
	status, body := getBody(t, ts, "/v1/runs/run-1")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"published"`)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{
		cfg: Config{AuthEnabled: true, APIKey: "sekret"},
	})

	status, _ := getBody(t, ts, "/v1/state")
	require.Equal(t, http.StatusForbidden, status)

	status, _ = getBody(t, ts, "/v1/state?api_key=sekret")
	require.Equal(t, http.StatusOK, status)

	// Liveness stays open.
	status, _ = getBody(t, ts, "/healthz")
	require.Equal(t, http.StatusOK, status)
}

func TestProbeReportsFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{
		prober: stubProber{result: publish.ProbeResult{OK: false, Message: "credential rejected"}},
	})
	status, body := getBody(t, ts, "/v1/probe")
	require.Equal(t, http.StatusBadGateway, status)
	require.Contains(t, body, "credential rejected")

	ts = newTestServer(t, serverOptions{})
	status, _ = getBody(t, ts, "/v1/probe")
	require.Equal(t, http.StatusOK, status)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, serverOptions{})
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
