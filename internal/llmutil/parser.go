// internal/llmutil/parser.go
package llmutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNarrativeBytes caps model prose embedded in a report.
const MaxNarrativeBytes = 8 << 10

var (
	// Regex definitions use \x60 for backticks because Go raw strings cannot contain them.

	// fencedBlockRegex matches a response wrapped entirely in a markdown fence, with any language tag.
	fencedBlockRegex = regexp.MustCompile("(?s)^\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60$")
	// leadInRegex matches chatty openers models prepend despite instructions.
	leadInRegex = regexp.MustCompile(`(?i)^(sure|certainly|of course|here is|here's)[^\n]*:\s*\n+`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// CleanNarrative normalizes free-text model output for embedding in a
// report: it unwraps a whole-response code fence, drops a conversational
// lead-in, collapses blank-line runs and truncates at MaxNarrativeBytes on a
// rune boundary.
func CleanNarrative(content string) string {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	if m := fencedBlockRegex.FindStringSubmatch(content); len(m) > 1 {
		content = strings.TrimSpace(m[1])
	}
	content = leadInRegex.ReplaceAllString(content, "")
	content = blankRuns.ReplaceAllString(content, "\n\n")
	return truncateString(strings.TrimSpace(content), MaxNarrativeBytes)
}

// truncateString cuts s to at most maxLen bytes without splitting a rune.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
