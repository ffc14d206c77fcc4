package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/service/report"
)

// Output formats.
const (
	FormatAuto     = "auto"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

const markdownWrap = 100

// resolveFormat picks markdown for terminals and JSON otherwise.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatAuto:
		if isTerminal(w) {
			return FormatMarkdown, nil
		}
		return FormatJSON, nil
	case FormatJSON, FormatYAML, FormatMarkdown:
		return strings.ToLower(format), nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, yaml or markdown)", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v interface{}) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// writeReport renders a consensus report in the requested format.
func writeReport(w io.Writer, format string, r *core.ConsensusReport) error {
	if format != FormatMarkdown {
		return writeStructured(w, format, r)
	}
	return writeMarkdown(w, report.RenderReport(r))
}

// writeThread renders a stored thread in the requested format.
func writeThread(w io.Writer, format string, thread *core.Thread, maxTurns int) error {
	if format != FormatMarkdown {
		return writeStructured(w, format, struct {
			core.Thread    `yaml:",inline"`
			RemainingTurns int `json:"remaining_turns" yaml:"remaining_turns"`
		}{*thread, thread.RemainingTurns(maxTurns)})
	}
	return writeMarkdown(w, report.RenderThread(thread, maxTurns))
}

// writeMarkdown styles md with glamour on color terminals and writes it raw
// elsewhere.
func writeMarkdown(w io.Writer, md string) error {
	if noColor || !isTerminal(w) {
		_, err := io.WriteString(w, md)
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(markdownWrap),
	)
	if err != nil {
		_, err = io.WriteString(w, md)
		return err
	}
	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// statusLine summarizes a report in one styled line for stderr.
func statusLine(r *core.ConsensusReport, color bool) string {
	renderer := lipgloss.NewRenderer(os.Stderr)
	if !color {
		renderer = lipgloss.NewRenderer(io.Discard)
	}
	ok := renderer.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warn := renderer.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	faint := renderer.NewStyle().Faint(true)

	style := ok
	if len(r.FailedModels) > 0 || r.SuccessfulResponses == 0 {
		style = warn
	}
	line := style.Render(fmt.Sprintf("%d/%d models responded", r.SuccessfulResponses, r.ModelsConsulted))
	if r.Metadata.ModelsWithRefinements > 0 {
		line += faint.Render(fmt.Sprintf(" · %d refined", r.Metadata.ModelsWithRefinements))
	}
	if r.ContinuationOffer != nil {
		line += faint.Render(" · continuation " + r.ContinuationOffer.ContinuationID)
	}
	return line
}
