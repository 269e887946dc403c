// internal/scanner/headers.go
package scanner

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// MinHstsMaxAge is the shortest acceptable HSTS max-age (6 months in seconds).
const MinHstsMaxAge = 15552000

var regexMaxAge = regexp.MustCompile(`(?i)max-age=(\d+)`)

// headersModule inspects response headers for missing protections, weak
// HSTS and CSP, permissive CORS and technology disclosure.
type headersModule struct{}

func (headersModule) Name() string { return ModuleHeaders }

func (m headersModule) Check(_ context.Context, target *Target) ([]schemas.Finding, error) {
	page := target.Page
	h := func(name string) (string, bool) {
		values := page.Header.Values(name)
		if len(values) == 0 {
			return "", false
		}
		return strings.Join(values, ", "), true
	}

	var issues []issue
	csp, hasCSP := h("Content-Security-Policy")
	issues = append(issues, checkCSP(csp, hasCSP)...)
	issues = append(issues, checkFraming(h, csp)...)

	if _, ok := h("X-Content-Type-Options"); !ok {
		issues = append(issues, missingHeader("X-Content-Type-Options", "CWE-116", schemas.SeverityMedium,
			"Browsers may MIME-sniff responses into executable content types."))
	}
	if _, ok := h("Referrer-Policy"); !ok {
		issues = append(issues, missingHeader("Referrer-Policy", "CWE-200", schemas.SeverityLow,
			"Full URLs, including tokens in query strings, can leak to third parties through the Referer header."))
	}
	if _, ok := h("Permissions-Policy"); !ok {
		issues = append(issues, missingHeader("Permissions-Policy", "CWE-693", schemas.SeverityInfo,
			"Powerful browser features are not explicitly restricted for this origin."))
	}
	if page.IsHTTPS() {
		hsts, ok := h("Strict-Transport-Security")
		issues = append(issues, checkHSTS(hsts, ok)...)
	}
	issues = append(issues, checkCORS(h)...)
	issues = append(issues, checkDisclosure(h)...)
	return findingsOf(issues), nil
}

func missingHeader(name, cwe string, severity schemas.Severity, impact string) issue {
	return issue{
		title:          "Missing Security Header: " + name,
		severity:       severity,
		cwe:            cwe,
		description:    fmt.Sprintf("The response is missing the '%s' security header.", name),
		impact:         impact,
		recommendation: fmt.Sprintf("Configure the web server or application framework to include the '%s' header in all HTTP responses.", name),
		evidence:       map[string]any{"header": name, "present": false},
	}
}

func checkCSP(csp string, present bool) []issue {
	if !present {
		return []issue{missingHeader("Content-Security-Policy", "CWE-693", schemas.SeverityMedium,
			"Without a CSP, any injected script runs with the full privileges of the page.")}
	}
	lower := strings.ToLower(csp)
	var issues []issue
	if strings.Contains(lower, "'unsafe-inline'") && !strings.Contains(lower, "nonce-") && !strings.Contains(lower, "'sha") {
		issues = append(issues, issue{
			title:          "Weak Content-Security-Policy: unsafe-inline",
			severity:       schemas.SeverityMedium,
			cwe:            "CWE-693",
			description:    "The CSP allows 'unsafe-inline' without a nonce or hash, so inline scripts injected through XSS will execute.",
			recommendation: "Use nonces or hashes for inline scripts, or move them into external files, and drop 'unsafe-inline'.",
			evidence:       map[string]any{"content-security-policy": csp},
		})
	}
	if strings.Contains(lower, "'unsafe-eval'") {
		issues = append(issues, issue{
			title:          "Weak Content-Security-Policy: unsafe-eval",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-693",
			description:    "The CSP allows 'unsafe-eval', permitting string-to-code evaluation such as eval() and new Function().",
			recommendation: "Remove 'unsafe-eval' and refactor code that depends on dynamic evaluation.",
			evidence:       map[string]any{"content-security-policy": csp},
		})
	}
	return issues
}

// checkFraming accepts either X-Frame-Options or a CSP frame-ancestors directive.
func checkFraming(h func(string) (string, bool), csp string) []issue {
	if _, ok := h("X-Frame-Options"); ok {
		return nil
	}
	if strings.Contains(strings.ToLower(csp), "frame-ancestors") {
		return nil
	}
	return []issue{missingHeader("X-Frame-Options", "CWE-1021", schemas.SeverityMedium,
		"The page can be framed by any origin, enabling clickjacking.")}
}

func checkHSTS(value string, present bool) []issue {
	if !present {
		return []issue{missingHeader("Strict-Transport-Security", "CWE-319", schemas.SeverityMedium,
			"Users can be downgraded to plaintext HTTP by an active network attacker.")}
	}

	matches := regexMaxAge.FindStringSubmatch(value)
	if len(matches) < 2 {
		return []issue{{
			title:          "Weak HSTS Configuration: Missing max-age",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-319",
			description:    "The Strict-Transport-Security header is present but has no 'max-age' directive, making it ineffective.",
			recommendation: "Include a 'max-age' directive with a value of at least 31536000.",
			evidence:       map[string]any{"strict-transport-security": value},
		}}
	}

	maxAge, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		// The regex guarantees digits, so only ErrRange gets here: a huge max-age is fine.
		return nil
	}
	switch {
	case maxAge == 0:
		return []issue{{
			title:          "Weak HSTS Configuration: max-age is Zero",
			severity:       schemas.SeverityMedium,
			cwe:            "CWE-319",
			description:    "The HSTS 'max-age' is 0, which tells browsers to forget the policy.",
			recommendation: "Set the HSTS 'max-age' to a large value, such as 31536000 (1 year).",
			evidence:       map[string]any{"strict-transport-security": value},
		}}
	case maxAge < MinHstsMaxAge:
		return []issue{{
			title:          "Weak HSTS Configuration: Short max-age",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-319",
			description:    fmt.Sprintf("The HSTS 'max-age' is %d seconds; at least %d seconds (6 months) is expected.", maxAge, MinHstsMaxAge),
			recommendation: fmt.Sprintf("Increase the HSTS 'max-age' to at least %d.", MinHstsMaxAge),
			evidence:       map[string]any{"strict-transport-security": value},
		}}
	}
	return nil
}

func checkCORS(h func(string) (string, bool)) []issue {
	origin, ok := h("Access-Control-Allow-Origin")
	if !ok || strings.TrimSpace(origin) != "*" {
		return nil
	}
	creds, _ := h("Access-Control-Allow-Credentials")
	if strings.EqualFold(strings.TrimSpace(creds), "true") {
		return []issue{{
			title:          "Permissive CORS Policy with Credentials",
			severity:       schemas.SeverityHigh,
			cwe:            "CWE-942",
			description:    "The response allows any origin and also sets Access-Control-Allow-Credentials: true.",
			impact:         "If the server reflects this for credentialed requests, any website can read authenticated responses.",
			recommendation: "Restrict Access-Control-Allow-Origin to an explicit allow-list of trusted origins.",
			evidence:       map[string]any{"access-control-allow-origin": origin, "access-control-allow-credentials": creds},
			cvss:           schemas.CVSS(7.5),
		}}
	}
	return []issue{{
		title:          "Wildcard CORS Policy",
		severity:       schemas.SeverityLow,
		cwe:            "CWE-942",
		description:    "The response allows cross-origin reads from any origin.",
		recommendation: "Limit Access-Control-Allow-Origin to the origins that need access.",
		evidence:       map[string]any{"access-control-allow-origin": origin},
	}}
}

var disclosureHeaders = []string{"Server", "X-Powered-By", "X-AspNet-Version", "X-AspNetMvc-Version"}

func checkDisclosure(h func(string) (string, bool)) []issue {
	var issues []issue
	for _, name := range disclosureHeaders {
		value, ok := h(name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		issues = append(issues, issue{
			title:          "Information Disclosure in HTTP Headers: " + name,
			severity:       schemas.SeverityLow,
			cwe:            "CWE-200",
			description:    fmt.Sprintf("The '%s' header discloses technology stack or version information: '%s'.", name, value),
			impact:         "Version details help attackers match the target against known vulnerabilities.",
			recommendation: fmt.Sprintf("Configure the web server to suppress or obfuscate the '%s' header.", name),
			evidence:       map[string]any{strings.ToLower(name): value},
		})
	}
	return issues
}
