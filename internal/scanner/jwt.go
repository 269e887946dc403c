// internal/scanner/jwt.go
package scanner

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// jwtRegex only matches tokens whose header and payload are JSON objects,
// which keeps random dotted identifiers out.
var jwtRegex = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{4,}\.eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]*`)

// jwtModule finds tokens the target hands out and inspects them offline.
type jwtModule struct{}

func (jwtModule) Name() string { return ModuleJWT }

func (jwtModule) Check(ctx context.Context, target *Target) ([]schemas.Finding, error) {
	tokens := extractTokens(target.Page)

	var issues []issue
	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, weaknesses, err := analyzeToken(tok.value)
		if err != nil {
			continue
		}
		for _, w := range weaknesses {
			issues = append(issues, issue{
				title:          w.title,
				severity:       w.severity,
				cwe:            w.cwe,
				cvss:           w.cvss,
				description:    w.description,
				recommendation: jwtRecommendation(w.cwe),
				evidence: map[string]any{
					"source": tok.source,
					"token":  redactToken(tok.value),
				},
			})
		}
	}
	return findingsOf(issues), nil
}

type foundToken struct {
	source string
	value  string
}

// extractTokens collects unique JWTs from cookies, headers and the body in
// a stable order.
func extractTokens(page *Page) []foundToken {
	seen := make(map[string]bool)
	var out []foundToken
	add := func(source, text string) {
		for _, m := range jwtRegex.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, foundToken{source: source, value: m})
			}
		}
	}

	for _, c := range page.Cookies {
		add("cookie:"+c.Name, c.Value)
	}
	names := make([]string, 0, len(page.Header))
	for name := range page.Header {
		if name != "Set-Cookie" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range page.Header.Values(name) {
			add("header:"+name, v)
		}
	}
	add("body", string(page.Body))
	return out
}

func redactToken(tok string) string {
	if len(tok) <= 24 {
		return tok
	}
	return fmt.Sprintf("%s...%s", tok[:16], tok[len(tok)-4:])
}

func jwtRecommendation(cwe string) string {
	switch cwe {
	case "CWE-347":
		return "Reject tokens with 'alg: none' and pin the accepted signing algorithms on the server."
	case "CWE-312":
		return "Keep secrets and personal data out of JWT claims; store a reference and look it up server-side."
	case "CWE-613":
		return "Issue tokens with a short 'exp' and rotate them with refresh tokens."
	case "CWE-521":
		return "Rotate the signing key to a random secret of at least 256 bits and invalidate issued tokens."
	}
	return "Review JWT issuance and validation."
}
