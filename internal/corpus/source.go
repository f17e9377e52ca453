package corpus

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/moolen/sleuth/internal/incident"
)

// Column headers of the bulk import format.
const (
	ColumnID             = "Incidents"
	ColumnDescription    = "Description"
	ColumnActionsTaken   = "Actions Taken"
	ColumnParticipants   = "Participants"
	ColumnAdditionalInfo = "Additional Info"
)

var requiredColumns = []string{ColumnID, ColumnDescription, ColumnActionsTaken, ColumnParticipants}

// ErrUnsupportedFormat is returned for files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported source format")

// SourceError points at the offending row (1-based, header excluded) and
// column of a bulk import source.
type SourceError struct {
	Source string
	Row    int
	Column string
	Msg    string
}

func (e *SourceError) Error() string {
	loc := e.Source
	if e.Row > 0 {
		loc = fmt.Sprintf("%s row %d", loc, e.Row)
	}
	if e.Column != "" {
		loc = fmt.Sprintf("%s column %q", loc, e.Column)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

// ReadFile reads historical incidents from an .xlsx, .csv, .json, .yaml or
// .yml file. Excel workbooks are read from their first sheet.
func ReadFile(path string) ([]incident.Historical, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ReadSource(path, f)
}

// ReadSource reads historical incidents from r. The format is chosen by the
// extension of name, which is also used in error messages.
func ReadSource(name string, r io.Reader) ([]incident.Historical, error) {
	format, err := formatOf(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case "xlsx":
		return ReadWorkbook(r, name)
	case "csv":
		return ReadCSV(r, name)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	if format == "json" {
		return ReadJSON(data, name)
	}
	return ReadYAML(data, name)
}

func formatOf(name string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		return "xlsx", nil
	case ".csv":
		return "csv", nil
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReadWorkbook reads an Excel workbook from r.
func ReadWorkbook(r io.Reader, name string) ([]incident.Historical, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return readWorkbook(f, name)
}

func readWorkbook(f *excelize.File, name string) ([]incident.Historical, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &SourceError{Source: name, Msg: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, &SourceError{Source: name, Msg: "sheet is empty"}
	}
	return ParseTable(rows[0], rows[1:], name)
}

// ReadCSV reads a comma-separated source with a header row.
func ReadCSV(r io.Reader, name string) ([]incident.Historical, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, &SourceError{Source: name, Msg: "file is empty"}
	}
	return ParseTable(records[0], records[1:], name)
}

// ReadJSON reads a JSON array of objects keyed by column header.
func ReadJSON(data []byte, name string) ([]incident.Historical, error) {
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse json %s: %w", name, err)
	}
	return fromObjects(rows, name)
}

// ReadYAML reads a YAML sequence of mappings keyed by column header.
func ReadYAML(data []byte, name string) ([]incident.Historical, error) {
	var rows []map[string]interface{}
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse yaml %s: %w", name, err)
	}
	return fromObjects(rows, name)
}

func fromObjects(rows []map[string]interface{}, name string) ([]incident.Historical, error) {
	header := append(append([]string{}, requiredColumns...), ColumnAdditionalInfo)
	table := make([][]string, 0, len(rows))
	for i, obj := range rows {
		present := make(map[string]string, len(obj))
		for k, v := range obj {
			present[normalizeHeader(k)] = cellString(v)
		}
		for _, col := range requiredColumns {
			if _, ok := present[normalizeHeader(col)]; !ok {
				return nil, &SourceError{Source: name, Row: i + 1, Column: col, Msg: "missing required field"}
			}
		}
		row := make([]string, len(header))
		for j, col := range header {
			row[j] = present[normalizeHeader(col)]
		}
		table = append(table, row)
	}
	return ParseTable(header, table, name)
}

// ParseTable maps header-addressed rows onto historical incidents. Header
// matching ignores case and surrounding whitespace. Fully blank rows are
// skipped; a row with a blank or repeated id aborts the parse.
func ParseTable(header []string, rows [][]string, name string) ([]incident.Historical, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := cols[normalizeHeader(col)]; !ok {
			return nil, &SourceError{Source: name, Column: col, Msg: "missing required column"}
		}
	}
	extraIdx, hasExtra := cols[normalizeHeader(ColumnAdditionalInfo)]

	cell := func(row []string, col string) string {
		i := cols[normalizeHeader(col)]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	seen := make(map[string]int, len(rows))
	out := make([]incident.Historical, 0, len(rows))
	for i, row := range rows {
		if blankRow(row) {
			continue
		}
		id := normalizeID(cell(row, ColumnID))
		if id == "" {
			return nil, &SourceError{Source: name, Row: i + 1, Column: ColumnID, Msg: "empty incident id"}
		}
		if first, dup := seen[id]; dup {
			return nil, &SourceError{Source: name, Row: i + 1, Column: ColumnID,
				Msg: fmt.Sprintf("duplicate incident id %q (first seen in row %d)", id, first)}
		}
		seen[id] = i + 1

		h := incident.Historical{
			ID:           id,
			Description:  cell(row, ColumnDescription),
			ActionsTaken: cell(row, ColumnActionsTaken),
			Participants: cell(row, ColumnParticipants),
		}
		if hasExtra && extraIdx < len(row) {
			h.AdditionalInfo = strings.TrimSpace(row[extraIdx])
		}
		out = append(out, h)
	}
	return out, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var floatIDPattern = regexp.MustCompile(`^(-?\d+)\.0+$`)

// normalizeID turns spreadsheet-style numeric ids like "1042.0" into "1042".
func normalizeID(id string) string {
	if m := floatIDPattern.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	return id
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
