// internal/scanner/transport.go
package scanner

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// certExpiryWarning is how close to expiry a certificate must be to be flagged.
const certExpiryWarning = 30 * 24 * time.Hour

var tlsVersionNames = map[uint16]string{
	tls.VersionTLS10: "TLS 1.0",
	tls.VersionTLS11: "TLS 1.1",
	tls.VersionTLS12: "TLS 1.2",
	tls.VersionTLS13: "TLS 1.3",
}

// transportModule checks how the target is delivered: plaintext exposure,
// protocol version, certificate validity and the HTTP to HTTPS upgrade.
type transportModule struct {
	now func() time.Time
}

func (transportModule) Name() string { return ModuleTransport }

func (m transportModule) Check(ctx context.Context, target *Target) ([]schemas.Finding, error) {
	page := target.Page
	now := time.Now
	if m.now != nil {
		now = m.now
	}

	var issues []issue
	if !page.IsHTTPS() {
		issues = append(issues, issue{
			title:          "Site Served Over Plaintext HTTP",
			severity:       schemas.SeverityHigh,
			cwe:            "CWE-319",
			cvss:           schemas.CVSS(7.4),
			description:    "The final document was delivered over unencrypted HTTP.",
			impact:         "Traffic, including session cookies and credentials, can be read or modified in transit.",
			recommendation: "Serve the application exclusively over HTTPS and redirect all HTTP requests.",
			evidence:       map[string]any{"url": page.FinalURL.String()},
		})
		return findingsOf(issues), nil
	}

	if state := page.TLS; state != nil {
		if state.Version < tls.VersionTLS12 {
			issues = append(issues, issue{
				title:          "Outdated TLS Protocol Version",
				severity:       schemas.SeverityHigh,
				cwe:            "CWE-326",
				cvss:           schemas.CVSS(7.4),
				description:    "The server negotiated a TLS version older than 1.2.",
				impact:         "Legacy protocol versions carry known cryptographic weaknesses.",
				recommendation: "Disable TLS 1.0 and 1.1 and support TLS 1.2 and 1.3 only.",
				evidence:       map[string]any{"negotiated": versionName(state.Version)},
			})
		}
		issues = append(issues, checkCertificate(state, now())...)
	}

	if issue, ok := checkUpgrade(ctx, target); ok {
		issues = append(issues, issue)
	}
	return findingsOf(issues), nil
}

func versionName(v uint16) string {
	if name, ok := tlsVersionNames[v]; ok {
		return name
	}
	return "unknown"
}

func checkCertificate(state *tls.ConnectionState, now time.Time) []issue {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	evidence := map[string]any{
		"subject":   leaf.Subject.String(),
		"not_after": leaf.NotAfter.UTC().Format(time.RFC3339),
	}
	switch {
	case now.After(leaf.NotAfter):
		return []issue{{
			title:          "Expired TLS Certificate",
			severity:       schemas.SeverityHigh,
			cwe:            "CWE-298",
			description:    "The server presented a certificate whose validity period has ended.",
			impact:         "Clients will reject the connection or users will be trained to click through warnings.",
			recommendation: "Renew the certificate and automate renewal.",
			evidence:       evidence,
		}}
	case leaf.NotAfter.Sub(now) < certExpiryWarning:
		return []issue{{
			title:          "TLS Certificate Expiring Soon",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-298",
			description:    "The server certificate expires within 30 days.",
			recommendation: "Renew the certificate before it lapses and automate renewal.",
			evidence:       evidence,
		}}
	}
	return nil
}

// checkUpgrade requests the http:// form of the target and expects a redirect
// to https. An unreachable plaintext port is the desired state.
func checkUpgrade(ctx context.Context, target *Target) (issue, bool) {
	if target.Fetcher == nil {
		return issue{}, false
	}
	plain := *target.Page.FinalURL
	plain.Scheme = "http"
	plain.Host = plainHost(target.Page.FinalURL)

	page, err := target.Fetcher.Probe(ctx, plain.String())
	if err != nil {
		return issue{}, false
	}
	switch page.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		loc, err := url.Parse(page.Header.Get("Location"))
		if err == nil && strings.EqualFold(plain.ResolveReference(loc).Scheme, "https") {
			return issue{}, false
		}
	}
	return issue{
		title:          "HTTP Does Not Redirect to HTTPS",
		severity:       schemas.SeverityMedium,
		cwe:            "CWE-319",
		description:    "The plaintext HTTP endpoint answers without redirecting to HTTPS.",
		impact:         "Users who type the bare domain or follow http:// links stay on an unencrypted connection.",
		recommendation: "Answer every HTTP request with a 301 or 308 redirect to the HTTPS URL.",
		evidence:       map[string]any{"url": plain.String(), "status": page.StatusCode},
	}, true
}

// plainHost drops an explicit :443 so the probe lands on the default HTTP
// port; any other explicit port is kept.
func plainHost(u *url.URL) string {
	if u.Port() == "443" {
		return u.Hostname()
	}
	return u.Host
}
