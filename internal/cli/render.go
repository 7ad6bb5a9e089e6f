package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/report"
	"github.com/harborline/tally/internal/service"
)

// DryRunNotice is printed by every mutating command that ran without --write.
func DryRunNotice() string {
	return WarningStyle.Render("Dry run: no changes were committed. Re-run with --write to apply.")
}

// RenderImportSummary renders the outcome of an import batch.
func RenderImportSummary(s *service.ImportSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Batch:    %s\n", s.BatchID))
	b.WriteString(fmt.Sprintf("Imported: %d\n", s.Imported))
	b.WriteString(fmt.Sprintf("Skipped:  %d (already present)\n", s.Skipped))
	b.WriteString(fmt.Sprintf("Rejected: %d", len(s.Rejected)))
	for _, re := range s.Rejected {
		b.WriteString("\n" + ErrorStyle.Render(fmt.Sprintf("  line %d: %v", re.Line, re.Err)))
	}
	return RenderBox("Import", b.String())
}

// RenderMatchSummary renders the outcome of a matcher run.
func RenderMatchSummary(s *service.MatchSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Examined:  %d\n", s.Examined))
	b.WriteString(SuccessStyle.Render(fmt.Sprintf("Matched:   %d", s.Matched)) + "\n")
	b.WriteString(WarningStyle.Render(fmt.Sprintf("Ambiguous: %d", s.Ambiguous)) + "\n")
	b.WriteString(fmt.Sprintf("No match:  %d", s.NoMatch))
	return RenderBox("Matching", b.String())
}

// RenderSplitSummary renders the outcome of a split resolver run.
func RenderSplitSummary(s *service.SplitSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Groups formed:     %d\n", s.GroupsFormed))
	b.WriteString(fmt.Sprintf("Members tagged:    %d\n", s.MembersTagged))
	b.WriteString(fmt.Sprintf("Synthetic parents: %d\n", s.SyntheticParents))
	line := fmt.Sprintf("Without marker:    %d", s.Markerless)
	if s.Markerless > 0 {
		line = WarningStyle.Render(line)
	}
	b.WriteString(line)
	return RenderBox("Split groups", b.String())
}

// RenderRecalcSummary renders the outcome of a balance recalculation.
func RenderRecalcSummary(s *service.RecalcSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Charters:     %d\n", s.Charters))
	b.WriteString(fmt.Sprintf("Changed:      %d\n", s.Changed))
	line := fmt.Sprintf("Needs review: %d", s.NeedsReview)
	if s.NeedsReview > 0 {
		line = WarningStyle.Render(line)
	}
	b.WriteString(line + "\n")
	line = fmt.Sprintf("Orphaned payments: %d", s.Orphaned)
	if s.Orphaned > 0 {
		line = ErrorStyle.Render(line)
	}
	b.WriteString(line)
	return RenderBox("Balances", b.String())
}

// RenderFindings renders conflict report findings grouped by category.
func RenderFindings(findings []report.Finding) string {
	if len(findings) == 0 {
		return FormatSuccess("No inconsistencies found.")
	}

	byCategory := make(map[report.Category][]report.Finding)
	for _, f := range findings {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	var b strings.Builder
	for i, c := range categories {
		if i > 0 {
			b.WriteString("\n")
		}
		group := byCategory[report.Category(c)]
		b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%s (%d)", c, len(group))) + "\n")
		for _, f := range group {
			ref := SubtleStyle.Render(fmt.Sprintf("%s #%d", f.EntityTable, f.EntityID))
			b.WriteString(fmt.Sprintf("  %s  %s\n", ref, f.Detail))
		}
	}
	return RenderBox(fmt.Sprintf("Findings (%d)", len(findings)), strings.TrimRight(b.String(), "\n"))
}

// RenderStatus renders the bank transaction status counts.
func RenderStatus(counts map[model.ReconciliationStatus]int) string {
	order := []model.ReconciliationStatus{
		model.StatusUnreconciled,
		model.StatusMatched,
		model.StatusFlagged,
	}
	total := 0
	var b strings.Builder
	for _, st := range order {
		n := counts[st]
		total += n
		line := fmt.Sprintf("%-13s %d", st, n)
		switch st {
		case model.StatusMatched:
			line = SuccessStyle.Render(line)
		case model.StatusFlagged:
			if n > 0 {
				line = ErrorStyle.Render(line)
			}
		case model.StatusUnreconciled:
			if n > 0 {
				line = WarningStyle.Render(line)
			}
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(BoldStyle.Render(fmt.Sprintf("%-13s %d", "total", total)))
	return RenderBox("Bank transactions", b.String())
}
