package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/report"
)

func TestReadUntilBlankLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "stops at blank line", input: "line one\nline two\n\nignored\n", want: "line one\nline two"},
		{name: "eof", input: "only line", want: "only line"},
		{name: "whitespace line ends input", input: "a\r\n  \nb", want: "a"},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readUntilBlankLine(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"Summary=db slow", "Query=a=b"})
	require.NoError(t, err)
	assert.Equal(t, []incident.DetailField{
		{Key: "Summary", Value: "db slow"},
		{Key: "Query", Value: "a=b"},
	}, fields)

	_, err = parseFields([]string{"no separator"})
	assert.Error(t, err)
}

func resetAnalyzeFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		analyzeFile = ""
		analyzeFields = nil
	})
}

func TestReadDescription(t *testing.T) {
	resetAnalyzeFlags(t)
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})

	got, err := readDescription(cmd, []string{"vpn", "down"})
	require.NoError(t, err)
	assert.Equal(t, "vpn down", got)

	path := filepath.Join(t.TempDir(), "ticket.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n disk full on db01 \n"), 0o600))
	analyzeFile = path
	got, err = readDescription(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "disk full on db01", got)

	analyzeFile = ""
	analyzeFields = []string{"Summary=payroll stuck", "Impact="}
	got, err = readDescription(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "Summary: payroll stuck", got)

	analyzeFields = nil
	cmd.SetIn(strings.NewReader("first\nsecond\n\nthird"))
	got, err = readDescription(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", got)

	cmd.SetIn(strings.NewReader("\n"))
	_, err = readDescription(cmd, nil)
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	res := &incident.AnalysisResult{
		RequestID: "req-1",
		CurrentIncident: incident.Current{
			Description: "vpn down",
			Analysis:    incident.RootCause{Category: incident.CategoryNetwork},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, report.FormatJSON))
	var decoded incident.AnalysisResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "req-1", decoded.RequestID)

	buf.Reset()
	require.NoError(t, printResult(&buf, res, report.FormatMarkdown))
	assert.Contains(t, buf.String(), "**Category:** Network")
}
