// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "Scalpel VAPT"
	ToolInfoURI  = "https://github.com/xkilldash9x/scalpel-vapt"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces characters not allowed in SARIF rule IDs. Runs of
// them collapse into a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a rule definition by its content.
type RuleFingerprint string

// calculateFingerprint hashes the defining characteristics of a finding.
func calculateFingerprint(finding schemas.Finding) RuleFingerprint {
	sortedCWEs := append([]string(nil), finding.CWE...)
	sort.Strings(sortedCWEs)

	data := struct {
		Module         string
		Title          string
		Description    string
		Recommendation string
		CWEs           []string
	}{
		Module:         finding.Module,
		Title:          finding.Title,
		Description:    finding.Description,
		Recommendation: finding.Recommendation,
		CWEs:           sortedCWEs,
	}

	h := sha1.New()
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// sarifEncoder converts a report document into a single-run SARIF log.
type sarifEncoder struct{}

func (sarifEncoder) Extension() string   { return "sarif" }
func (sarifEncoder) ContentType() string { return "application/sarif+json" }

func (sarifEncoder) Encode(w io.Writer, doc *Document) error {
	log := newSARIFBuilder(doc).build()
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(log); err != nil {
		return fmt.Errorf("failed to encode SARIF output: %w", err)
	}
	return nil
}

// sarifBuilder accumulates rules and results for one document. Not safe for
// concurrent use; each Encode call gets its own.
type sarifBuilder struct {
	doc                *Document
	log                *sarif.Log
	rulesByFingerprint map[RuleFingerprint]string
	ruleIDUsage        map[string]int
}

func newSARIFBuilder(doc *Document) *sarifBuilder {
	driver := &sarif.ToolComponent{
		Name:           ToolName,
		InformationURI: pString(ToolInfoURI),
		Rules:          []*sarif.ReportingDescriptor{},
	}
	if doc.ToolVersion != "" {
		driver.Version = pString(doc.ToolVersion)
	}

	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{Driver: driver},
				Invocations: []*sarif.Invocation{{
					ExecutionSuccessful: true,
					EndTimeUTC:          pString(doc.GeneratedAt.UTC().Format(time.RFC3339)),
				}},
				Results: []*sarif.Result{},
				Properties: &sarif.PropertyBag{
					"run_id":             doc.RunID,
					"target":             doc.Target,
					"overall_risk_score": doc.Summary.OverallScore,
					"risk_rating":        string(doc.Summary.Rating),
				},
			},
		},
	}
	return &sarifBuilder{
		doc:                doc,
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

func (b *sarifBuilder) build() *sarif.Log {
	run := b.log.Runs[0]
	for _, finding := range b.doc.Findings {
		ruleID := b.ensureRule(finding)

		messageText := finding.Description
		if messageText == "" {
			messageText = finding.Title
		}

		props := sarif.PropertyBag{
			"severity": string(finding.Severity),
			"module":   finding.Module,
		}
		if finding.CVSS != nil {
			props["cvss"] = *finding.CVSS
		}

		run.Results = append(run.Results, &sarif.Result{
			RuleID:              ruleID,
			Message:             &sarif.Message{Text: pString(messageText)},
			Level:               mapSeverityToSARIFLevel(finding.Severity),
			Locations:           b.createLocations(finding),
			PartialFingerprints: map[string]string{"findingId": finding.ID},
			Properties:          &props,
		})
	}
	return b.log
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	if name == "" {
		return "UNNAMED-FINDING"
	}
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN-FINDING"
	}
	return sanitized
}

// ensureRule registers a rule for the finding's content and returns its ID.
// Distinct content with the same title gets a numeric suffix.
func (b *sarifBuilder) ensureRule(finding schemas.Finding) string {
	fingerprint := calculateFingerprint(finding)
	if ruleID, exists := b.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := "VAPT-" + sanitizeRuleName(finding.Title)
	usageCount := b.ruleIDUsage[baseRuleID]
	b.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
	}

	markdownHelp := fmt.Sprintf("**Finding:** %s\n\n**Description:**\n%s\n\n**Recommendation:**\n%s",
		finding.Title, finding.Description, finding.Recommendation)

	tags := []string{"security", "vapt"}
	if finding.Module != "" {
		tags = append(tags, finding.Module)
	}

	driver := b.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(finding.Title),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(finding.Title)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(finding.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(finding.Recommendation),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":      tags,
			"precision": "high",
			"CWE":       finding.CWE,
		},
	})
	b.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

// createLocations points the result at the affected system, falling back to
// the run target.
func (b *sarifBuilder) createLocations(finding schemas.Finding) []*sarif.Location {
	uri := finding.AffectedSystem
	if uri == "" {
		uri = b.doc.Target
	}
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(uri)},
		},
		Message: &sarif.Message{Text: pString(fmt.Sprintf("Issue found at %s", uri))},
	}}
}

// mapSeverityToSARIFLevel converts a finding severity to the SARIF level.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value.
func pString(s string) *string {
	return &s
}
