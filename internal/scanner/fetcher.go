// internal/scanner/fetcher.go
package scanner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// maxRedirects bounds the redirect chain followed for the main document.
const maxRedirects = 10

// Page is one fetched response, decoded and size capped.
type Page struct {
	RequestURL string
	FinalURL   *url.URL
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
	Truncated  bool
	TLS        *tls.ConnectionState
	Redirects  []string
}

// IsHTTPS reports whether the final response arrived over TLS.
func (p *Page) IsHTTPS() bool {
	return p.FinalURL != nil && p.FinalURL.Scheme == "https"
}

// Fetcher issues paced GET requests against the target.
type Fetcher struct {
	client     *http.Client
	noRedirect *http.Client
	limiter    *rate.Limiter
	userAgent  string
	maxBody    int64
}

// NewFetcher builds a fetcher over base, or a fresh transport when base is nil.
func NewFetcher(cfg config.ScanConfig, base http.RoundTripper) *Fetcher {
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.IgnoreTLSErrors, MinVersion: tls.VersionTLS10},
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		}
	}
	transport := newDecompressingTransport(base)

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		noRedirect: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
	}
}

// Fetch retrieves rawURL, following redirects.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	return f.do(ctx, f.client, rawURL)
}

// Probe retrieves rawURL without following redirects.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (*Page, error) {
	return f.do(ctx, f.noRedirect, rawURL)
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, rawURL string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", rawURL, err)
	}
	page := &Page{
		RequestURL: rawURL,
		FinalURL:   resp.Request.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Cookies:    resp.Cookies(),
		Body:       body,
		TLS:        resp.TLS,
	}
	if int64(len(body)) > f.maxBody {
		page.Body = body[:f.maxBody]
		page.Truncated = true
	}
	for r := resp.Request; r.Response != nil; r = r.Response.Request {
		page.Redirects = append([]string{r.Response.Request.URL.String()}, page.Redirects...)
	}
	return page, nil
}
