// internal/scanner/content.go
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// maxExamples caps evidence lists per finding.
const maxExamples = 10

var (
	csrfFieldHint      = regexp.MustCompile(`(?i)csrf|xsrf|authenticity|__requestverification|nonce|token`)
	sensitiveCommentRe = regexp.MustCompile(`(?i)password|passwd|secret|api[_ -]?key|todo|fixme|hack|internal`)
)

// contentModule inspects the HTML document.
type contentModule struct{}

func (contentModule) Name() string { return ModuleContent }

type form struct {
	action      string
	method      string
	hasPassword bool
	autocomplete []string
	hasCSRF     bool
}

type contentScan struct {
	base          *url.URL
	forms         []*form
	activeMixed   []string
	passiveMixed  []string
	inlineHandler []string
	comments      []string
}

func (contentModule) Check(ctx context.Context, target *Target) ([]schemas.Finding, error) {
	page := target.Page
	if !isHTML(page) {
		return nil, nil
	}
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scan := &contentScan{base: page.FinalURL}
	scan.walk(doc, nil)
	return findingsOf(scan.issues(page.IsHTTPS())), nil
}

func isHTML(page *Page) bool {
	ct := strings.ToLower(page.Header.Get("Content-Type"))
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" {
		return false
	}
	trimmed := bytes.TrimSpace(page.Body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func (s *contentScan) walk(n *html.Node, current *form) {
	switch n.Type {
	case html.CommentNode:
		if text := strings.TrimSpace(n.Data); sensitiveCommentRe.MatchString(text) && len(s.comments) < maxExamples {
			s.comments = append(s.comments, truncate(text, 120))
		}
	case html.ElementNode:
		current = s.element(n, current)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c, current)
	}
}

func (s *contentScan) element(n *html.Node, current *form) *form {
	for _, a := range n.Attr {
		if strings.HasPrefix(strings.ToLower(a.Key), "on") && len(a.Key) > 2 && len(s.inlineHandler) < maxExamples {
			s.inlineHandler = append(s.inlineHandler, fmt.Sprintf("<%s %s>", n.Data, a.Key))
		}
	}

	switch n.DataAtom {
	case atom.Form:
		action, _ := attr(n, "action")
		method, _ := attr(n, "method")
		f := &form{action: action, method: strings.ToLower(strings.TrimSpace(method))}
		s.forms = append(s.forms, f)
		return f
	case atom.Input:
		if current == nil {
			return current
		}
		typ, _ := attr(n, "type")
		name, _ := attr(n, "name")
		switch strings.ToLower(typ) {
		case "password":
			current.hasPassword = true
			ac, _ := attr(n, "autocomplete")
			current.autocomplete = append(current.autocomplete, strings.ToLower(strings.TrimSpace(ac)))
		case "hidden":
			if csrfFieldHint.MatchString(name) {
				current.hasCSRF = true
			}
		}
	case atom.Script, atom.Iframe, atom.Embed:
		s.mixed(n, "src", true)
	case atom.Object:
		s.mixed(n, "data", true)
	case atom.Link:
		if rel, _ := attr(n, "rel"); strings.Contains(strings.ToLower(rel), "stylesheet") {
			s.mixed(n, "href", true)
		}
	case atom.Img, atom.Audio, atom.Video, atom.Source:
		s.mixed(n, "src", false)
	}
	return current
}

func (s *contentScan) mixed(n *html.Node, key string, active bool) {
	ref, ok := attr(n, key)
	if !ok {
		return
	}
	u, err := s.resolve(ref)
	if err != nil || u.Scheme != "http" {
		return
	}
	entry := fmt.Sprintf("<%s> %s", n.Data, u.String())
	if active && len(s.activeMixed) < maxExamples {
		s.activeMixed = append(s.activeMixed, entry)
	} else if !active && len(s.passiveMixed) < maxExamples {
		s.passiveMixed = append(s.passiveMixed, entry)
	}
}

func (s *contentScan) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if s.base == nil {
		return u, nil
	}
	return s.base.ResolveReference(u), nil
}

func (s *contentScan) issues(https bool) []issue {
	var issues []issue
	var plaintextForms, autocompleteForms, csrfForms []string

	for i, f := range s.forms {
		label := f.action
		if label == "" {
			label = fmt.Sprintf("form #%d (self)", i+1)
		}
		action, err := s.resolve(f.action)
		postsInClear := !https || (err == nil && action.Scheme == "http")
		if f.hasPassword && postsInClear {
			plaintextForms = append(plaintextForms, label)
		}
		if f.hasPassword {
			for _, ac := range f.autocomplete {
				if ac == "" || ac == "on" {
					autocompleteForms = append(autocompleteForms, label)
					break
				}
			}
		}
		if f.method == "post" && !f.hasCSRF {
			csrfForms = append(csrfForms, label)
		}
	}

	if len(plaintextForms) > 0 {
		issues = append(issues, issue{
			title:          "Password Form Submitted Over HTTP",
			severity:       schemas.SeverityHigh,
			cwe:            "CWE-319",
			cvss:           schemas.CVSS(7.4),
			description:    "A form containing a password field is served or submitted over plaintext HTTP.",
			impact:         "Credentials can be captured by anyone on the network path.",
			recommendation: "Serve login pages over HTTPS and make sure form actions use https:// URLs.",
			evidence:       map[string]any{"forms": capList(plaintextForms)},
		})
	}
	if len(autocompleteForms) > 0 {
		issues = append(issues, issue{
			title:          "Password Field Allows Browser Autocomplete",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-522",
			description:    "Password inputs do not declare an autocomplete policy, so browsers may store and autofill them on shared machines.",
			recommendation: "Set autocomplete=\"current-password\" or \"new-password\" on password fields, or autocomplete=\"off\" where storage is not acceptable.",
			evidence:       map[string]any{"forms": capList(autocompleteForms)},
		})
	}
	if len(csrfForms) > 0 {
		issues = append(issues, issue{
			title:          "POST Form Without Anti-CSRF Token",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-352",
			description:    "A state-changing form has no hidden field that looks like an anti-CSRF token.",
			impact:         "If the endpoint relies only on cookies for authentication, other sites can submit the form on a user's behalf.",
			recommendation: "Add a per-session anti-CSRF token to state-changing forms and validate it server-side.",
			evidence:       map[string]any{"forms": capList(csrfForms)},
		})
	}
	if https && len(s.activeMixed) > 0 {
		issues = append(issues, issue{
			title:          "Active Mixed Content",
			severity:       schemas.SeverityMedium,
			cwe:            "CWE-319",
			description:    "The HTTPS page loads scripts, frames or stylesheets over plaintext HTTP.",
			impact:         "A network attacker can replace those resources and take over the page.",
			recommendation: "Load every subresource over HTTPS and add 'upgrade-insecure-requests' to the CSP.",
			evidence:       map[string]any{"resources": s.activeMixed},
		})
	}
	if https && len(s.passiveMixed) > 0 {
		issues = append(issues, issue{
			title:          "Passive Mixed Content",
			severity:       schemas.SeverityLow,
			cwe:            "CWE-319",
			description:    "The HTTPS page loads images or media over plaintext HTTP.",
			recommendation: "Serve media over HTTPS.",
			evidence:       map[string]any{"resources": s.passiveMixed},
		})
	}
	if len(s.inlineHandler) > 0 {
		issues = append(issues, issue{
			title:          "Inline Event Handlers",
			severity:       schemas.SeverityInfo,
			cwe:            "CWE-693",
			description:    "The page uses inline event handler attributes, which prevent adopting a strict Content-Security-Policy.",
			recommendation: "Move event handlers into external scripts attached with addEventListener.",
			evidence:       map[string]any{"elements": s.inlineHandler},
		})
	}
	if len(s.comments) > 0 {
		issues = append(issues, issue{
			title:          "Sensitive Information in HTML Comments",
			severity:       schemas.SeverityInfo,
			cwe:            "CWE-615",
			description:    "HTML comments contain keywords that suggest internal notes or credentials.",
			recommendation: "Strip developer comments from production markup.",
			evidence:       map[string]any{"comments": s.comments},
		})
	}
	return issues
}

func capList(items []string) []string {
	if len(items) > maxExamples {
		return items[:maxExamples]
	}
	return items
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
