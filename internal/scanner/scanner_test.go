// internal/scanner/scanner_test.go
package scanner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// recordingReporter collects scanner output.
type recordingReporter struct {
	mu        sync.Mutex
	findings  []schemas.Finding
	completed []string
	failWith  error
}

func (r *recordingReporter) ReportFinding(_ context.Context, f schemas.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.findings = append(r.findings, f)
	return nil
}

func (r *recordingReporter) ModuleCompleted(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, module)
}

func (r *recordingReporter) modules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.completed...)
	sort.Strings(out)
	return out
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{UserAgent: "scalpel-vapt-test", MaxBodyBytes: 1 << 20}
}

func newTestScanner(t *testing.T, srv *httptest.Server, opts ...Option) *Scanner {
	t.Helper()
	t.Cleanup(srv.Close)
	opts = append([]Option{WithTransport(srv.Client().Transport)}, opts...)
	return New(testScanConfig(), zap.NewNop(), opts...)
}

func TestScanner_Modules(t *testing.T) {
	s := New(testScanConfig(), zap.NewNop())
	assert.Equal(t, []string{ModuleHeaders, ModuleCookies, ModuleJWT, ModuleContent, ModuleTransport}, s.Modules())

	mods := s.Modules()
	mods[0] = "mutated"
	assert.Equal(t, ModuleHeaders, s.Modules()[0])
}

func TestScanner_ScanPlainHTTP(t *testing.T) {
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.UserAgent()
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc"})
		w.Header().Set("X-Powered-By", "PHP/7.4")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<form method="post"><input type="password" name="p"></form>`))
	}))
	s := newTestScanner(t, srv)

	rep := &recordingReporter{}
	err := s.Scan(context.Background(), schemas.ScanRequest{RunID: "run-1", Target: srv.URL}, rep)
	require.NoError(t, err)

	assert.Equal(t, "scalpel-vapt-test", userAgent)
	assert.Equal(t, []string{"content", "cookies", "headers", "jwt", "transport"}, rep.modules())

	require.NotEmpty(t, rep.findings)
	for _, f := range rep.findings {
		assert.Equal(t, "run-1", f.RunID)
		assert.NotEmpty(t, f.Module)
		assert.Equal(t, srv.URL, f.AffectedSystem)
		assert.NoError(t, f.Validate())
	}

	got := titles(rep.findings)
	assert.Contains(t, got, "Site Served Over Plaintext HTTP")
	assert.Contains(t, got, "Information Disclosure in HTTP Headers: X-Powered-By")
	assert.Contains(t, got, "Session Cookie Without HttpOnly Flag: PHPSESSID")
	assert.Contains(t, got, "Password Form Submitted Over HTTP")
	assert.NotContains(t, got, "Missing Security Header: Strict-Transport-Security")
}

func TestScanner_ScanTLSFollowsRedirects(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/home", http.StatusFound)
			return
		}
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "camera=()")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<p>hello</p>`))
	}))
	s := newTestScanner(t, srv)

	rep := &recordingReporter{}
	err := s.Scan(context.Background(), schemas.ScanRequest{
		RunID:   "run-2",
		Target:  srv.URL,
		Modules: []string{ModuleHeaders, ModuleContent, ModuleHeaders},
	}, rep)
	require.NoError(t, err)

	assert.Equal(t, []string{"content", "headers"}, rep.modules(), "duplicate modules run once")
	assert.Empty(t, rep.findings)
}

func TestScanner_UnknownModule(t *testing.T) {
	s := New(testScanConfig(), zap.NewNop())
	err := s.Scan(context.Background(), schemas.ScanRequest{RunID: "r", Target: "https://example.com", Modules: []string{"sqlmap"}}, &recordingReporter{})
	assert.ErrorIs(t, err, schemas.ErrValidation)
}

func TestScanner_InvalidTarget(t *testing.T) {
	s := New(testScanConfig(), zap.NewNop())
	err := s.Scan(context.Background(), schemas.ScanRequest{RunID: "r", Target: "not a url"}, &recordingReporter{})
	assert.ErrorIs(t, err, schemas.ErrValidation)
}

func TestScanner_FetchFailureIsCollaboratorFailure(t *testing.T) {
	failing := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	s := New(testScanConfig(), zap.NewNop(), WithTransport(failing))

	rep := &recordingReporter{}
	err := s.Scan(context.Background(), schemas.ScanRequest{RunID: "r", Target: "https://example.com"}, rep)
	assert.ErrorIs(t, err, schemas.ErrCollaboratorFailure)
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, rep.modules())
}

func TestScanner_CancelledContext(t *testing.T) {
	s := New(testScanConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Scan(ctx, schemas.ScanRequest{RunID: "r", Target: "https://example.com"}, &recordingReporter{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingModule struct{}

func (failingModule) Name() string { return "broken" }

func (failingModule) Check(context.Context, *Target) ([]schemas.Finding, error) {
	return nil, errors.New("parser exploded")
}

func okServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
}

func TestScanner_ModuleAndReporterErrors(t *testing.T) {
	t.Run("module error fails the scan", func(t *testing.T) {
		srv := okServer()
		s := newTestScanner(t, srv, WithModules(failingModule{}))
		err := s.Scan(context.Background(), schemas.ScanRequest{RunID: "r", Target: srv.URL}, &recordingReporter{})
		assert.ErrorContains(t, err, "module broken: parser exploded")
	})

	t.Run("reporter error fails the scan", func(t *testing.T) {
		srv := okServer()
		s := newTestScanner(t, srv, WithModules(headersModule{}))
		rep := &recordingReporter{failWith: schemas.ErrFindingsFrozen}
		err := s.Scan(context.Background(), schemas.ScanRequest{RunID: "r", Target: srv.URL}, rep)
		assert.ErrorIs(t, err, schemas.ErrFindingsFrozen)
		assert.Empty(t, rep.modules())
	})
}

func TestFetcher_TruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	cfg := testScanConfig()
	cfg.MaxBodyBytes = 16
	page, err := NewFetcher(cfg, srv.Client().Transport).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Body, 16)
	assert.True(t, page.Truncated)
}

func TestFetcher_ProbeDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer srv.Close()

	f := NewFetcher(testScanConfig(), srv.Client().Transport)
	probe, err := f.Probe(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, probe.StatusCode)
	assert.Equal(t, "/next", probe.Header.Get("Location"))

	page, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "landed", string(page.Body))
	assert.Equal(t, "/next", page.FinalURL.Path)
	assert.Equal(t, []string{srv.URL + "/"}, page.Redirects)
}
