// internal/reporting/markdown.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

const markdownTemplate = `# VAPT Report: {{ .Target }}

| | |
|---|---|
| Run ID | ` + "`{{ .RunID }}`" + ` |
| Generated | {{ stamp .GeneratedAt }} |
| Overall risk score | {{ printf "%.2f" .Summary.OverallScore }} / 10 |
| Risk rating | **{{ .Summary.Rating }}** |

## Executive Summary

{{ if eq .Summary.TotalFindings 0 -}}
No security findings were recorded for this run.
{{- else -}}
{{ .Summary.TotalFindings }} finding(s) were recorded.

| Severity | Count |
|---|---|
{{- range severities }}
| {{ upper . }} | {{ $.Summary.SeverityCounts.Count . }} |
{{- end }}
{{- end }}
{{ with .Insight }}
## Risk Insight

{{ . }}
{{ end }}
{{- if .Findings }}
## Findings
{{ range $i, $f := .Findings }}
### {{ inc $i }}. [{{ upper $f.Severity }}] {{ $f.Title }}

- **Module:** {{ or $f.Module "n/a" }}
- **CVSS:** {{ $f.CVSSLabel }}
{{- with $f.AffectedSystem }}
- **Affected system:** {{ . }}
{{- end }}
{{- with $f.CWE }}
- **CWE:** {{ join . ", " }}
{{- end }}
{{ with $f.Description }}
{{ . }}
{{ end }}
{{- with $f.Impact }}
**Impact:** {{ . }}
{{ end }}
{{- end }}
{{- end }}
{{- if .Recommendations }}
## Recommendations
{{ range .Recommendations }}
- **[{{ upper .Severity }}]** {{ .Text }} _({{ join .Findings "; " }})_
{{- end }}
{{ end -}}
`

type markdownEncoder struct {
	tmpl *template.Template
}

func newMarkdownEncoder() *markdownEncoder {
	funcs := template.FuncMap{
		"upper":      func(s schemas.Severity) string { return strings.ToUpper(string(s)) },
		"severities": schemas.Severities,
		"join":       strings.Join,
		"inc":        func(i int) int { return i + 1 },
		"stamp":      func(t time.Time) string { return t.UTC().Format(time.RFC1123) },
	}
	return &markdownEncoder{
		tmpl: template.Must(template.New("report.md").Funcs(funcs).Parse(markdownTemplate)),
	}
}

func (*markdownEncoder) Extension() string   { return "md" }
func (*markdownEncoder) ContentType() string { return "text/markdown; charset=utf-8" }

func (e *markdownEncoder) Encode(w io.Writer, doc *Document) error {
	if err := e.tmpl.Execute(w, doc); err != nil {
		return fmt.Errorf("failed to render markdown report: %w", err)
	}
	return nil
}
