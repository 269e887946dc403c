// internal/scanner/module.go
package scanner

import (
	"context"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Module names.
const (
	ModuleHeaders   = "headers"
	ModuleCookies   = "cookies"
	ModuleJWT       = "jwt"
	ModuleContent   = "content"
	ModuleTransport = "transport"
)

// Target is what a module inspects: the fetched document plus a fetcher
// for the few checks that need an extra request.
type Target struct {
	URL     *url.URL
	Page    *Page
	Fetcher *Fetcher
}

// Module is one family of passive checks.
type Module interface {
	Name() string
	Check(ctx context.Context, target *Target) ([]schemas.Finding, error)
}

// issue is the module-level description of a finding before the scanner
// stamps run and module details on it.
type issue struct {
	title          string
	severity       schemas.Severity
	cwe            string
	description    string
	impact         string
	recommendation string
	evidence       map[string]any
	cvss           *float64
	affected       string
}

func (i issue) finding() schemas.Finding {
	f := schemas.Finding{
		Title:          i.title,
		Severity:       i.severity,
		Description:    i.description,
		Impact:         i.impact,
		Recommendation: i.recommendation,
		AffectedSystem: i.affected,
		CVSS:           i.cvss,
	}
	if i.cwe != "" {
		f.CWE = []string{i.cwe}
	}
	if len(i.evidence) > 0 {
		if raw, err := json.Marshal(i.evidence); err == nil {
			f.Evidence = raw
		}
	}
	return f
}

func findingsOf(issues []issue) []schemas.Finding {
	out := make([]schemas.Finding, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.finding())
	}
	return out
}
