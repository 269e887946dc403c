// internal/scanner/cookies.go
package scanner

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

var sessionCookieHints = []string{"sess", "sid", "auth", "token", "jwt", "login", "remember"}

// cookiesModule checks Set-Cookie attributes.
type cookiesModule struct{}

func (cookiesModule) Name() string { return ModuleCookies }

func (cookiesModule) Check(_ context.Context, target *Target) ([]schemas.Finding, error) {
	https := target.Page.IsHTTPS()
	var issues []issue
	for _, c := range target.Page.Cookies {
		sensitive := looksLikeSession(c.Name)
		ev := map[string]any{
			"cookie":    c.Name,
			"secure":    c.Secure,
			"http_only": c.HttpOnly,
			"same_site": sameSiteLabel(c.SameSite),
		}

		if https && !c.Secure {
			sev := schemas.SeverityLow
			if sensitive {
				sev = schemas.SeverityMedium
			}
			issues = append(issues, issue{
				title:          fmt.Sprintf("Cookie Without Secure Flag: %s", c.Name),
				severity:       sev,
				cwe:            "CWE-614",
				description:    fmt.Sprintf("The cookie '%s' is set over HTTPS without the Secure attribute.", c.Name),
				impact:         "The cookie is sent over plaintext HTTP if the user is ever downgraded or follows an http:// link.",
				recommendation: "Set the Secure attribute on every cookie issued over HTTPS.",
				evidence:       ev,
			})
		}
		if !c.HttpOnly && sensitive {
			issues = append(issues, issue{
				title:          fmt.Sprintf("Session Cookie Without HttpOnly Flag: %s", c.Name),
				severity:       schemas.SeverityMedium,
				cwe:            "CWE-1004",
				description:    fmt.Sprintf("The cookie '%s' looks like a session identifier and is readable from JavaScript.", c.Name),
				impact:         "An XSS payload can steal the session cookie.",
				recommendation: "Set the HttpOnly attribute on session and authentication cookies.",
				evidence:       ev,
			})
		}
		switch {
		case c.SameSite == http.SameSiteNoneMode && !c.Secure:
			issues = append(issues, issue{
				title:          fmt.Sprintf("SameSite=None Cookie Without Secure: %s", c.Name),
				severity:       schemas.SeverityLow,
				cwe:            "CWE-1275",
				description:    fmt.Sprintf("The cookie '%s' sets SameSite=None without Secure; modern browsers reject it and older ones send it cross-site.", c.Name),
				recommendation: "Pair SameSite=None with the Secure attribute, or use SameSite=Lax.",
				evidence:       ev,
			})
		case c.SameSite == 0 && sensitive:
			issues = append(issues, issue{
				title:          fmt.Sprintf("Session Cookie Without SameSite Attribute: %s", c.Name),
				severity:       schemas.SeverityLow,
				cwe:            "CWE-1275",
				description:    fmt.Sprintf("The cookie '%s' does not declare a SameSite policy.", c.Name),
				impact:         "Browsers that do not default to Lax will attach the cookie to cross-site requests, aiding CSRF.",
				recommendation: "Set SameSite=Lax or SameSite=Strict on session cookies.",
				evidence:       ev,
			})
		}
	}
	return findingsOf(issues), nil
}

func looksLikeSession(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range sessionCookieHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func sameSiteLabel(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	case http.SameSiteDefaultMode:
		return "Default"
	default:
		return ""
	}
}
