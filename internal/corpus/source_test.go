package corpus

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/moolen/sleuth/internal/incident"
)

func TestParseTable(t *testing.T) {
	header := []string{" incidents ", "Description", "Actions  Taken", "Participants", "Additional Info"}
	rows := [][]string{
		{"1042.0", "disk full on server X", "cleaned /var/log", "ops", "weekend"},
		{"", "", "", "", ""},
		{"INC-7", "dns timeouts", "restarted resolver", "netops"},
	}

	got, err := ParseTable(header, rows, "test.csv")
	require.NoError(t, err)

	want := []incident.Historical{
		{ID: "1042", Description: "disk full on server X", ActionsTaken: "cleaned /var/log", Participants: "ops", AdditionalInfo: "weekend"},
		{ID: "INC-7", Description: "dns timeouts", ActionsTaken: "restarted resolver", Participants: "netops"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseTable() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTable_Errors(t *testing.T) {
	tests := []struct {
		name    string
		header  []string
		rows    [][]string
		column  string
		row     int
		message string
	}{
		{
			name:    "missing column",
			header:  []string{"Incidents", "Description", "Participants"},
			column:  ColumnActionsTaken,
			message: "missing required column",
		},
		{
			name:    "empty id",
			header:  requiredColumns,
			rows:    [][]string{{"", "desc", "a", "p"}},
			column:  ColumnID,
			row:     1,
			message: "empty incident id",
		},
		{
			name:    "duplicate id",
			header:  requiredColumns,
			rows:    [][]string{{"1", "a", "", ""}, {"1.0", "b", "", ""}},
			column:  ColumnID,
			row:     2,
			message: "duplicate incident id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable(tt.header, tt.rows, "src")
			var srcErr *SourceError
			require.True(t, errors.As(err, &srcErr), "want *SourceError, got %v", err)
			assert.Equal(t, tt.column, srcErr.Column)
			assert.Equal(t, tt.row, srcErr.Row)
			assert.Contains(t, srcErr.Msg, tt.message)
		})
	}
}

func TestReadCSV(t *testing.T) {
	data := "Incidents,Description,Actions Taken,Participants\n" +
		"INC1,\"disk full, server X\",rotated logs,ops\n"
	got, err := ReadCSV(strings.NewReader(data), "incidents.csv")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "disk full, server X", got[0].Description)
}

func TestReadJSON(t *testing.T) {
	data := []byte(`[
		{"Incidents": 17, "Description": "vpn down", "Actions Taken": "rekeyed", "Participants": "netops"},
		{"Incidents": "INC18", "Description": "cert expired", "Actions Taken": "renewed", "Participants": "sec", "Additional Info": "prod"}
	]`)
	got, err := ReadJSON(data, "incidents.json")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "17", got[0].ID)
	assert.Equal(t, "prod", got[1].AdditionalInfo)

	_, err = ReadJSON([]byte(`[{"Incidents": 1, "Description": "x"}]`), "partial.json")
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, 1, srcErr.Row)
}

func TestReadYAML(t *testing.T) {
	data := []byte(`
- Incidents: INC1
  Description: disk full on server X
  Actions Taken: cleaned up
  Participants: ops
`)
	got, err := ReadYAML(data, "incidents.yaml")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "INC1", got[0].ID)
}

func TestReadFile_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Incidents", "Description", "Actions Taken", "Participants", "Additional Info"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{1001, "database pool exhausted", "raised pool size", "dba"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"INC2", "switch port flapping", "replaced cable", "netops", "rack 4"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1001", got[0].ID)
	assert.Equal(t, "", got[0].AdditionalInfo)
	assert.Equal(t, "rack 4", got[1].AdditionalInfo)
}

func TestReadFile_UnsupportedFormat(t *testing.T) {
	_, err := ReadFile("incidents.docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadSource(t *testing.T) {
	csvData := "Incidents,Description,Actions Taken,Participants\nINC1,vpn down,restarted gateway,netops\n"
	yamlData := "- Incidents: INC2\n  Description: printer jam\n  Actions Taken: cleared tray\n  Participants: helpdesk\n"

	tests := []struct {
		name   string
		data   string
		wantID string
	}{
		{name: "upload.CSV", data: csvData, wantID: "INC1"},
		{name: "upload.yml", data: yamlData, wantID: "INC2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadSource(tt.name, strings.NewReader(tt.data))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantID, got[0].ID)
		})
	}

	_, err := ReadSource("upload.txt", strings.NewReader(csvData))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
