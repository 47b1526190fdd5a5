package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/tailtest/tailtest/internal/diagnostics"
)

var headlineColors = map[diagnostics.Status]lipgloss.Color{
	diagnostics.StatusOK:                 lipgloss.Color("2"),
	diagnostics.StatusFaults:             lipgloss.Color("1"),
	diagnostics.StatusCommunicationError: lipgloss.Color("3"),
}

// renderResult writes the headline and one indented line per fault. Colors
// are only emitted when w is a terminal.
func renderResult(w io.Writer, result diagnostics.Result) error {
	r := lipgloss.NewRenderer(w)
	headline := r.NewStyle().Bold(true).Foreground(headlineColors[result.Status])
	fault := r.NewStyle().Foreground(lipgloss.Color("1"))

	if _, err := fmt.Fprintln(w, headline.Render(result.Headline())); err != nil {
		return err
	}
	for _, f := range result.Faults {
		if _, err := fmt.Fprintf(w, "  %s\n", fault.Render(f.String())); err != nil {
			return err
		}
	}

	return nil
}
