package review

import (
	"fmt"
	"strings"
)

// maxRenderBytes bounds the rendered document. Forge comment and
// check-run bodies reject larger payloads.
const maxRenderBytes = 65000

// truncatedMarker ends a document that hit the render bound.
const truncatedMarker = "\n\n[Output truncated]"

// riskGlyph decorates the summary heading per overall risk.
var riskGlyph = map[string]string{
	RiskLow:    "\U0001F7E2", // green circle
	RiskMedium: "\U0001F7E1", // yellow circle
	RiskHigh:   "\U0001F534", // red circle
}

// priorityHeading names each finding group in render order.
var priorityHeading = [3]string{"Critical", "Important", "Minor"}

// RenderMarkdown renders a sanitized review into the document posted
// as the check-run summary or PR review body. Output is cut at a UTF-8
// boundary under the render bound, with a trailing truncation marker
// when anything was dropped.
func RenderMarkdown(rev *Review) string {
	var b strings.Builder

	b.WriteString("## Summary\n\n")
	if glyph, ok := riskGlyph[rev.OverallRisk]; ok {
		fmt.Fprintf(&b, "%s **Overall risk: %s**\n\n", glyph, rev.OverallRisk)
	}
	b.WriteString(strings.TrimSpace(rev.Summary))
	b.WriteString("\n")

	if len(rev.Findings) > 0 {
		b.WriteString("\n## Findings\n")
		groups := rev.FindingsByPriority()
		for priority := 0; priority <= 2; priority++ {
			findings := groups[priority]
			if len(findings) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n### %s\n", priorityHeading[priority])
			for i := range findings {
				writeFinding(&b, &findings[i])
			}
		}
	}

	writeBulletSection(&b, "Suggested Tests", rev.SuggestedTests)
	writeBulletSection(&b, "Risk Hotspots", rev.RiskHotspots)

	for i := range rev.TicketCompliance {
		if i == 0 {
			b.WriteString("\n## Ticket Compliance\n")
		}
		writeTicketCompliance(&b, &rev.TicketCompliance[i])
	}

	if len(rev.FilesReviewed) > 0 || len(rev.FilesSkipped) > 0 {
		b.WriteString("\n## Files\n\n")
		if len(rev.FilesReviewed) > 0 {
			fmt.Fprintf(&b, "**Reviewed (%d):** %s\n\n", len(rev.FilesReviewed), backtickList(rev.FilesReviewed))
		}
		if len(rev.FilesSkipped) > 0 {
			fmt.Fprintf(&b, "**Skipped (%d):** %s\n\n", len(rev.FilesSkipped), backtickList(rev.FilesSkipped))
		}
	}

	if rev.TruncationNote != nil && *rev.TruncationNote != "" {
		fmt.Fprintf(&b, "\n## Truncation Note\n\n%s\n", *rev.TruncationNote)
	}
	if rev.NotReviewed != nil && *rev.NotReviewed != "" {
		fmt.Fprintf(&b, "\n## Not Reviewed\n\n%s\n", *rev.NotReviewed)
	}

	return boundOutput(b.String())
}

// RenderInlineComment renders one finding as an inline review comment
// body. Evidence is omitted; the comment already sits on the code.
func RenderInlineComment(f *Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s]** %s severity\n\n%s\n", f.Type, f.Severity(), strings.TrimSpace(f.Message))
	if f.SuggestedPatch != nil && *f.SuggestedPatch != "" {
		fmt.Fprintf(&b, "\n```diff\n%s\n```\n", strings.TrimSpace(*f.SuggestedPatch))
	}
	return boundOutput(b.String())
}

// ValidationFailureBody is the check-run body posted when a pipeline
// stage produced unusable output. The text is stable across repeats so
// redeliveries do not churn the check run.
func ValidationFailureBody(stage string) string {
	return fmt.Sprintf("## Review not completed\n\n"+
		"The %s stage returned output that failed validation after retries. "+
		"No findings are reported for this run. Re-run the check to try again.", stage)
}

func writeFinding(b *strings.Builder, f *Finding) {
	fmt.Fprintf(b, "\n**[%s] %s**\n\n", f.Type, findingLocation(f))
	b.WriteString(strings.TrimSpace(f.Message))
	b.WriteString("\n")
	if f.Evidence != "" {
		fmt.Fprintf(b, "\n> %s\n", strings.ReplaceAll(strings.TrimSpace(f.Evidence), "\n", "\n> "))
	}
	if f.SuggestedPatch != nil && *f.SuggestedPatch != "" {
		fmt.Fprintf(b, "\n```diff\n%s\n```\n", strings.TrimSpace(*f.SuggestedPatch))
	}
}

// findingLocation formats file:start-end, degrading to file:start or
// the bare filename as line information thins out.
func findingLocation(f *Finding) string {
	switch {
	case f.StartLine == nil:
		return f.File
	case f.EndLine == nil || *f.EndLine == *f.StartLine:
		return fmt.Sprintf("%s:%d", f.File, *f.StartLine)
	default:
		return fmt.Sprintf("%s:%d-%d", f.File, *f.StartLine, *f.EndLine)
	}
}

func writeBulletSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func writeTicketCompliance(b *strings.Builder, tc *TicketCompliance) {
	fmt.Fprintf(b, "\n### %s", tc.TicketKey)
	if tc.TicketSummary != "" {
		fmt.Fprintf(b, ": %s", tc.TicketSummary)
	}
	b.WriteString("\n")
	writeComplianceList(b, "Fully compliant", tc.FullyCompliant)
	writeComplianceList(b, "Not compliant", tc.NotCompliant)
	writeComplianceList(b, "Needs human verification", tc.NeedsHumanVerification)
}

func writeComplianceList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s**\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func backtickList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = "`" + name + "`"
	}
	return strings.Join(quoted, ", ")
}

// boundOutput enforces the render byte limit, cutting at a UTF-8
// boundary and appending the truncation marker.
func boundOutput(s string) string {
	if len(s) <= maxRenderBytes {
		return s
	}
	cut := truncateUTF8(s, maxRenderBytes-len(truncatedMarker))
	return cut + truncatedMarker
}
