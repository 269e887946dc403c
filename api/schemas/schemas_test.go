package schemas

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRankAndParse(t *testing.T) {
	t.Run("Rank orders critical first", func(t *testing.T) {
		prev := -1
		for _, sev := range Severities() {
			assert.Greater(t, sev.Rank(), prev, "rank must increase for %s", sev)
			prev = sev.Rank()
		}
		assert.Equal(t, len(Severities()), Severity("bogus").Rank(), "unknown severities sort last")
	})

	t.Run("Parse is case insensitive", func(t *testing.T) {
		sev, err := ParseSeverity(" CRITICAL ")
		require.NoError(t, err)
		assert.Equal(t, SeverityCritical, sev)

		sev, err = ParseSeverity("Informational")
		require.NoError(t, err)
		assert.Equal(t, SeverityInfo, sev)
	})

	t.Run("Parse rejects unknown values", func(t *testing.T) {
		_, err := ParseSeverity("severe")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestFindingValidate(t *testing.T) {
	valid := Finding{Severity: SeverityHigh, Title: "Missing HSTS", CVSS: CVSS(7.5)}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		mut   func(f *Finding)
		field string
	}{
		{"unknown severity", func(f *Finding) { f.Severity = "urgent" }, "severity"},
		{"empty title", func(f *Finding) { f.Title = "   " }, "title"},
		{"cvss above range", func(f *Finding) { f.CVSS = CVSS(10.1) }, "cvss"},
		{"cvss negative", func(f *Finding) { f.CVSS = CVSS(-1) }, "cvss"},
		{"cvss NaN", func(f *Finding) { f.CVSS = CVSS(math.NaN()) }, "cvss"},
		{"bad evidence", func(f *Finding) { f.Evidence = json.RawMessage(`{"a":`) }, "evidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mut(&f)
			err := f.Validate()
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	t.Run("nil cvss is not applicable", func(t *testing.T) {
		f := valid
		f.CVSS = nil
		assert.NoError(t, f.Validate())
		assert.Equal(t, "N/A", f.CVSSLabel())
	})
}

func TestSeveritySummary(t *testing.T) {
	s := Summarize([]Finding{
		{Severity: SeverityCritical},
		{Severity: SeverityMedium},
		{Severity: SeverityMedium},
		{Severity: SeverityInfo},
	})
	assert.Equal(t, SeveritySummary{Critical: 1, Medium: 2, Info: 1}, s)
	assert.Equal(t, 4, s.Total())
	assert.Equal(t, 2, s.Count(SeverityMedium))
	assert.Equal(t, 0, s.Count("bogus"))
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusInitializing.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestPentestRequestValidate(t *testing.T) {
	policy := TargetPolicy{
		AuthorizedTargets: []string{"https://juice-shop.herokuapp.com", "http://juice-shop.herokuapp.com/"},
		KnownModules:      []string{"headers", "cookies", "jwt"},
		DefaultModules:    []string{"headers", "cookies"},
	}

	t.Run("trailing slash and default modules", func(t *testing.T) {
		req, err := PentestRequest{Target: "https://juice-shop.herokuapp.com/", ConsentAcknowledged: true}.Validate(policy)
		require.NoError(t, err)
		assert.Equal(t, "https://juice-shop.herokuapp.com", req.Target)
		assert.Equal(t, []string{"headers", "cookies"}, req.Modules)
	})

	t.Run("modules are normalized and deduplicated", func(t *testing.T) {
		req, err := PentestRequest{
			Target:              "http://juice-shop.herokuapp.com",
			ConsentAcknowledged: true,
			Modules:             []string{"JWT", "jwt", "headers"},
		}.Validate(policy)
		require.NoError(t, err)
		assert.Equal(t, []string{"jwt", "headers"}, req.Modules)
	})

	failures := []struct {
		name  string
		req   PentestRequest
		field string
	}{
		{"unauthorized target", PentestRequest{Target: "https://example.com", ConsentAcknowledged: true}, "target"},
		{"bad scheme", PentestRequest{Target: "ftp://juice-shop.herokuapp.com", ConsentAcknowledged: true}, "target"},
		{"empty target", PentestRequest{ConsentAcknowledged: true}, "target"},
		{"no consent", PentestRequest{Target: "https://juice-shop.herokuapp.com"}, "consent_acknowledged"},
		{"unknown module", PentestRequest{Target: "https://juice-shop.herokuapp.com", ConsentAcknowledged: true, Modules: []string{"sqlmap"}}, "modules"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Validate(policy)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
