package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/lingq-export/pkg/collector"
	"github.com/Sternrassler/lingq-export/pkg/export"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
const (
	colorSuccess = "#04B575"
	colorWarn    = "#FFB000"
	colorInfo    = "#626262"
)

// reportStyles renders to out; colors are dropped when out is not a terminal.
type reportStyles struct {
	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	info  lipgloss.Style
}

func newReportStyles(out io.Writer) reportStyles {
	r := lipgloss.NewRenderer(out)
	return reportStyles{
		title: r.NewStyle().Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color(colorSuccess)),
		warn:  r.NewStyle().Foreground(lipgloss.Color(colorWarn)),
		info:  r.NewStyle().Foreground(lipgloss.Color(colorInfo)),
	}
}

// printReport prints per-language totals, written files and, when needed,
// the command to retry incomplete languages.
func printReport(out io.Writer, summary *collector.Summary, artifacts []export.Artifact) {
	s := newReportStyles(out)

	fmt.Fprintln(out)
	if len(summary.Languages) == 0 {
		fmt.Fprintln(out, s.warn.Render("No LingQs downloaded: no languages found for this account."))
		return
	}

	fmt.Fprintln(out, s.title.Render(fmt.Sprintf("Download finished. Total LingQs: %d", summary.Total())))

	width := 0
	for _, language := range summary.Languages {
		width = max(width, len(language))
	}

	for _, r := range summary.Results {
		status := s.ok.Render("complete")
		if !r.Complete {
			cause := "incomplete"
			if r.Err != nil {
				cause = fmt.Sprintf("incomplete: %v", r.Err)
			}
			status = s.warn.Render(cause)
		}
		fmt.Fprintf(out, "  %-*s %7d  %s\n", width, r.Language, len(r.Records), status)
	}
	for _, language := range summary.NotStarted {
		fmt.Fprintf(out, "  %-*s %7s  %s\n", width, language, "-", s.warn.Render("not started"))
	}

	if len(artifacts) > 0 {
		fmt.Fprintln(out, s.info.Render("Files:"))
		for _, a := range artifacts {
			line := "  " + a.Path
			if a.Remote != "" {
				line += " -> " + a.Remote
			}
			if a.MirrorErr != nil {
				line += " (mirror failed)"
			}
			fmt.Fprintln(out, s.info.Render(line))
		}
	}

	if incomplete := summary.Incomplete(); len(incomplete) > 0 {
		fmt.Fprintln(out, s.warn.Render("Incomplete downloads for: "+strings.Join(incomplete, ", ")))
		fmt.Fprintln(out, "  "+retryHint(incomplete))
	}
}

// retryHint is the flag that re-runs only the given languages.
func retryHint(languages []string) string {
	return "You can retry with: --languages " + strings.Join(languages, ",")
}
