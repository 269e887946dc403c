// internal/scanner/scanner.go
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// Scanner runs passive web checks against a single target URL. The target
// is fetched once and every selected module inspects the same response.
type Scanner struct {
	fetcher *Fetcher
	modules map[string]Module
	order   []string
	logger  *zap.Logger
}

// Option configures a Scanner.
type Option func(*scannerOptions)

type scannerOptions struct {
	transport http.RoundTripper
	fetcher   *Fetcher
	modules   []Module
}

// WithTransport sets the round tripper used for outbound requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *scannerOptions) { o.transport = rt }
}

// WithFetcher replaces the fetcher entirely.
func WithFetcher(f *Fetcher) Option {
	return func(o *scannerOptions) { o.fetcher = f }
}

// WithModules replaces the built-in module set.
func WithModules(modules ...Module) Option {
	return func(o *scannerOptions) { o.modules = modules }
}

// DefaultModules returns the built-in modules in canonical order.
func DefaultModules() []Module {
	return []Module{
		headersModule{},
		cookiesModule{},
		jwtModule{},
		contentModule{},
		transportModule{},
	}
}

// New creates a Scanner.
func New(cfg config.ScanConfig, logger *zap.Logger, opts ...Option) *Scanner {
	o := &scannerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.fetcher == nil {
		o.fetcher = NewFetcher(cfg, o.transport)
	}
	if o.modules == nil {
		o.modules = DefaultModules()
	}

	s := &Scanner{
		fetcher: o.fetcher,
		modules: make(map[string]Module, len(o.modules)),
		logger:  logger.Named("scanner"),
	}
	for _, m := range o.modules {
		s.modules[m.Name()] = m
		s.order = append(s.order, m.Name())
	}
	return s
}

// Modules lists the module names in canonical order.
func (s *Scanner) Modules() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Scanner) resolve(names []string) ([]Module, error) {
	if len(names) == 0 {
		names = s.order
	}
	selected := make([]Module, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		m, ok := s.modules[name]
		if !ok {
			return nil, &schemas.ValidationError{Field: "modules", Reason: fmt.Sprintf("unknown module %q", name)}
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		selected = append(selected, m)
	}
	return selected, nil
}

// Scan fetches the target and runs the requested modules concurrently. Each
// finding is handed to reporter as soon as its module produces it. The first
// module error cancels the remaining modules and is returned.
func (s *Scanner) Scan(ctx context.Context, req schemas.ScanRequest, reporter schemas.ScanReporter) error {
	modules, err := s.resolve(req.Modules)
	if err != nil {
		return err
	}
	target, err := url.Parse(req.Target)
	if err != nil || target.Host == "" {
		return &schemas.ValidationError{Field: "target", Reason: "must be an absolute URL"}
	}

	log := s.logger.With(zap.String("run_id", req.RunID), zap.String("target", req.Target))
	log.Info("Fetching target.", zap.Int("modules", len(modules)))

	page, err := s.fetcher.Fetch(ctx, req.Target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: fetch %s: %w", schemas.ErrCollaboratorFailure, req.Target, err)
	}
	log.Debug("Target fetched.",
		zap.Int("status", page.StatusCode),
		zap.String("final_url", page.FinalURL.String()),
		zap.Int("body_bytes", len(page.Body)),
		zap.Bool("truncated", page.Truncated))

	t := &Target{URL: target, Page: page, Fetcher: s.fetcher}
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range modules {
		g.Go(func() error {
			return s.runModule(gctx, m, t, req.RunID, reporter, log)
		})
	}
	return g.Wait()
}

func (s *Scanner) runModule(ctx context.Context, m Module, t *Target, runID string, reporter schemas.ScanReporter, log *zap.Logger) error {
	found, err := m.Check(ctx, t)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.Warn("Module failed.", zap.String("module", m.Name()), zap.Error(err))
		return fmt.Errorf("module %s: %w", m.Name(), err)
	}
	for _, f := range found {
		f.RunID = runID
		f.Module = m.Name()
		if f.AffectedSystem == "" {
			f.AffectedSystem = t.Page.FinalURL.String()
		}
		if err := reporter.ReportFinding(ctx, f); err != nil {
			return fmt.Errorf("module %s: report finding %q: %w", m.Name(), f.Title, err)
		}
	}
	log.Debug("Module completed.", zap.String("module", m.Name()), zap.Int("findings", len(found)))
	reporter.ModuleCompleted(m.Name())
	return nil
}
