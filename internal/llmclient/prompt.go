package llmclient

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// maxPromptFindings bounds how many findings are described to the model.
const maxPromptFindings = 15

const systemPrompt = `You are a senior penetration tester writing the risk insight section of a
vulnerability assessment report. Write two or three short paragraphs of plain prose for a
technical manager: what the overall exposure is, which issues to fix first and why, and one
sentence on residual risk. Do not invent findings, do not use markdown headings, and do not
repeat the severity table verbatim.`

// buildInsightPrompt renders the run context into the user prompt. Findings
// are expected in report order, most severe first.
func buildInsightPrompt(req schemas.InsightRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target: %s\n", req.Target)
	fmt.Fprintf(&b, "Overall risk score: %.2f/10 (%s)\n", req.Score, req.Rating)
	fmt.Fprintf(&b, "Findings by severity: critical=%d high=%d medium=%d low=%d info=%d\n",
		req.Summary.Critical, req.Summary.High, req.Summary.Medium, req.Summary.Low, req.Summary.Info)

	if len(req.Findings) == 0 {
		b.WriteString("\nNo findings were recorded.\n")
		return b.String()
	}

	b.WriteString("\nFindings:\n")
	for i, f := range req.Findings {
		if i == maxPromptFindings {
			fmt.Fprintf(&b, "... and %d more\n", len(req.Findings)-maxPromptFindings)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s", strings.ToUpper(string(f.Severity)), f.Title)
		if f.CVSS != nil {
			fmt.Fprintf(&b, " (CVSS %s)", f.CVSSLabel())
		}
		if f.Impact != "" {
			fmt.Fprintf(&b, ": %s", f.Impact)
		}
		b.WriteString("\n")
	}
	return b.String()
}
