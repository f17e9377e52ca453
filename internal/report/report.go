// Package report renders analysis results for terminals, files and pipes.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/moolen/sleuth/internal/incident"
	"gopkg.in/yaml.v3"
)

// Format selects an output rendering.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// DefaultWrap is the word wrap used for terminal rendering when the
// terminal width is unknown.
const DefaultWrap = 76

// ErrUnknownFormat is returned for output formats that cannot be rendered.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts a format name or a common alias ("md", "yml", "txt").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// Render encodes res in the requested format.
func Render(res *incident.AnalysisResult, format Format) ([]byte, error) {
	if res == nil {
		return nil, errors.New("nil analysis result")
	}
	switch format {
	case FormatText:
		return []byte(Text(res)), nil
	case FormatMarkdown:
		return []byte(Markdown(res)), nil
	case FormatJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Write renders res to w.
func Write(w io.Writer, res *incident.AnalysisResult, format Format) error {
	data, err := Render(res, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteFile exports res to path. An empty format is inferred from the
// file extension.
func WriteFile(path string, res *incident.AnalysisResult, format Format) error {
	if format == "" {
		f, err := FormatFromPath(path)
		if err != nil {
			return err
		}
		format = f
	}
	data, err := Render(res, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

type labelled struct {
	label string
	value string
}

func rootCauseFields(rc incident.RootCause) []labelled {
	return []labelled{
		{"Category", string(rc.Category)},
		{"Root Cause", rc.RootCause},
		{"Impact", rc.Impact},
		{"Component", rc.Component},
		{"Solution", rc.Solution},
		{"Prevention", rc.Prevention},
	}
}

func similarFields(s incident.SimilarIncident) []labelled {
	fields := []labelled{
		{"Incident ID", s.IncidentID},
		{"Similarity Score", FormatScore(s.SimilarityScore)},
		{"Description", s.Description},
		{"Actions Taken", s.ActionsTaken},
		{"Participants", s.Participants},
	}
	if s.MatchedPatterns != "" {
		fields = append(fields, labelled{"Matched Patterns", s.MatchedPatterns})
	}
	if s.ApplicableSolution != "" {
		fields = append(fields, labelled{"Applicable Solution", s.ApplicableSolution})
	}
	return fields
}

// FormatScore prints a similarity score as a percentage, dropping a zero
// fraction.
func FormatScore(score float64) string {
	if score == float64(int64(score)) {
		return fmt.Sprintf("%d%%", int64(score))
	}
	return fmt.Sprintf("%.1f%%", score)
}

// Markdown renders res as a markdown document.
func Markdown(res *incident.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("## Root Cause Analysis\n\n")
	for _, f := range rootCauseFields(res.CurrentIncident.Analysis) {
		fmt.Fprintf(&b, "**%s:** %s\n\n", f.label, markdownValue(f.value))
	}

	b.WriteString("## Similar Incidents\n\n")
	if len(res.SimilarIncidents) == 0 {
		b.WriteString("_No similar incidents found._\n")
		return b.String()
	}
	for i, s := range res.SimilarIncidents {
		if i > 0 {
			b.WriteString("---\n\n")
		}
		fmt.Fprintf(&b, "### Incident %d\n\n", i+1)
		for _, f := range similarFields(s) {
			fmt.Fprintf(&b, "- **%s:** %s\n", f.label, markdownValue(f.value))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// markdownValue keeps multi-line values inside their list item or paragraph.
func markdownValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return strings.Join(strings.Fields(v), " ")
}

// Text renders res as plain text.
func Text(res *incident.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("Incident Analysis:\n")
	b.WriteString("=================\n")
	b.WriteString("\nRoot Cause Analysis:\n")
	for _, f := range rootCauseFields(res.CurrentIncident.Analysis) {
		fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
	}

	b.WriteString("\nSimilar Incidents:\n")
	b.WriteString("=================\n")
	if len(res.SimilarIncidents) == 0 {
		b.WriteString("\nNo similar incidents found.\n")
		return b.String()
	}
	for i, s := range res.SimilarIncidents {
		fmt.Fprintf(&b, "\nIncident %d:\n", i+1)
		for _, f := range similarFields(s) {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
		}
	}
	return b.String()
}

// Terminal renders the markdown report with glamour for display in a
// terminal. A non-positive width uses DefaultWrap.
func Terminal(res *incident.AnalysisResult, width int) (string, error) {
	if width <= 0 {
		width = DefaultWrap
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(Markdown(res))
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
