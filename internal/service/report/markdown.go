// Package report renders consensus reports and threads as markdown and
// archives reports to disk.
package report

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// RenderReport lays out a consensus report as a markdown document.
func RenderReport(r *core.ConsensusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Consensus: %d/%d models responded\n\n", r.SuccessfulResponses, r.ModelsConsulted)
	fmt.Fprintf(&b, "**Workflow:** `%s`", r.Metadata.WorkflowType)
	if r.CrossFeedbackEnabled {
		fmt.Fprintf(&b, " · **Refined:** %d", r.Metadata.ModelsWithRefinements)
	}
	b.WriteString("\n\n")

	for _, resp := range r.Responses {
		fmt.Fprintf(&b, "## %s\n\n", resp.Model)
		meta := resp.Metadata
		fmt.Fprintf(&b, "_%.1fs · %d in / %d out tokens", meta.TotalResponseTime, meta.TotalInputTokens, meta.TotalOutputTokens)
		if meta.Refined {
			b.WriteString(" · refined")
		}
		b.WriteString("_\n\n")
		b.WriteString(strings.TrimSpace(resp.Response))
		b.WriteString("\n\n")
	}

	if len(r.FailedModels) > 0 || len(r.RefinementFailures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, f := range r.FailedModels {
			fmt.Fprintf(&b, "- **%s** (%s, %s): %s\n", f.Model, f.Phase, f.Kind, f.Error)
		}
		for _, f := range r.RefinementFailures {
			fmt.Fprintf(&b, "- **%s** (%s, %s, initial answer kept): %s\n", f.Model, f.Phase, f.Kind, f.Error)
		}
		b.WriteString("\n")
	}

	if r.ContinuationOffer != nil {
		fmt.Fprintf(&b, "---\n\nContinue with `--continuation %s` (%d exchanges left).\n",
			r.ContinuationOffer.ContinuationID, r.ContinuationOffer.RemainingTurns)
	}
	return b.String()
}

// RenderThread lays out a stored thread as a markdown document.
func RenderThread(t *core.Thread, maxTurns int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Thread %s\n\n", t.ThreadID)
	fmt.Fprintf(&b, "- **Created:** %s\n", t.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Updated:** %s\n", t.LastUpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Turns:** %d (%d left)\n", len(t.Turns), t.RemainingTurns(maxTurns))
	if t.ParentThreadID != "" {
		fmt.Fprintf(&b, "- **Continues:** %s\n", t.ParentThreadID)
	}
	b.WriteString("\n")
	for i, turn := range t.Turns {
		who := string(turn.Role)
		if turn.ModelName != "" {
			who += " · " + turn.ModelName
		}
		fmt.Fprintf(&b, "## %d. %s\n\n%s\n\n", i+1, who, strings.TrimSpace(turn.Content))
	}
	return b.String()
}
