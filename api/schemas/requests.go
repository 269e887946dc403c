package schemas

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// PentestRequest is the body accepted by the invoke endpoint.
type PentestRequest struct {
	Target              string   `json:"target"`
	ConsentAcknowledged bool     `json:"consent_acknowledged"`
	Modules             []string `json:"modules,omitempty"`
}

// TargetPolicy constrains which requests are accepted.
type TargetPolicy struct {
	// AuthorizedTargets is the whitelist of scan targets. Entries are compared
	// after normalization, so a trailing slash is not significant.
	AuthorizedTargets []string
	// KnownModules are the module names the scanner implements.
	KnownModules []string
	// DefaultModules is used when the request names none.
	DefaultModules []string
}

// NormalizeTarget checks that raw is an absolute http(s) URL and strips a
// trailing slash from its path.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "target", Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "target", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "target", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "target", Reason: "host is required"}
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	return u.String(), nil
}

// Validate checks the request against the policy and returns a normalized
// copy with the module list resolved. Nothing is created when it fails.
func (r PentestRequest) Validate(policy TargetPolicy) (PentestRequest, error) {
	target, err := NormalizeTarget(r.Target)
	if err != nil {
		return PentestRequest{}, err
	}

	authorized := false
	for _, allowed := range policy.AuthorizedTargets {
		norm, err := NormalizeTarget(allowed)
		if err == nil && norm == target {
			authorized = true
			break
		}
	}
	if !authorized {
		return PentestRequest{}, &ValidationError{
			Field:  "target",
			Reason: fmt.Sprintf("%s is not an authorized target", target),
		}
	}

	if !r.ConsentAcknowledged {
		return PentestRequest{}, &ValidationError{
			Field:  "consent_acknowledged",
			Reason: "explicit consent is required to scan the target",
		}
	}

	modules := r.Modules
	if len(modules) == 0 {
		modules = policy.DefaultModules
	}
	resolved := make([]string, 0, len(modules))
	for _, m := range modules {
		m = strings.ToLower(strings.TrimSpace(m))
		if !slices.Contains(policy.KnownModules, m) {
			return PentestRequest{}, &ValidationError{Field: "modules", Reason: fmt.Sprintf("unknown module %q", m)}
		}
		if !slices.Contains(resolved, m) {
			resolved = append(resolved, m)
		}
	}
	if len(resolved) == 0 {
		return PentestRequest{}, &ValidationError{Field: "modules", Reason: "at least one module is required"}
	}

	return PentestRequest{
		Target:              target,
		ConsentAcknowledged: true,
		Modules:             resolved,
	}, nil
}
