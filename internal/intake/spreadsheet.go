package intake

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format identifies a spreadsheet encoding accepted by ReadSheet.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format (want .csv or .xlsx)")

// Row is one data row of a spreadsheet. Line is the 1-based line number in
// the source file, header included.
type Row struct {
	Line   int
	Fields map[string]any
}

// FormatFromName infers the format from a file name extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", ErrUnsupportedFormat
}

// ReadSheet parses r as the given format. The first row is the header;
// header cells are trimmed and keep their original casing so the alias
// resolver can fold them. Blank rows are skipped.
func ReadSheet(r io.Reader, f Format) ([]Row, error) {
	switch f {
	case FormatCSV:
		return parseCSV(r)
	case FormatXLSX:
		return parseXLSX(r)
	}
	return nil, ErrUnsupportedFormat
}

// Records strips line numbers from rows.
func Records(rows []Row) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Fields)
	}
	return out
}

func parseCSV(file io.Reader) ([]Row, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	headers = cleanHeaders(headers)

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if row, ok := buildRow(headers, record, line); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func parseXLSX(file io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("no sheets found in workbook")
	}
	excelRows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(excelRows) == 0 {
		return nil, errors.New("sheet has no header row")
	}

	headers := cleanHeaders(excelRows[0])
	var rows []Row
	for i, cells := range excelRows[1:] {
		if row, ok := buildRow(headers, cells, i+2); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func cleanHeaders(h []string) []string {
	out := make([]string, len(h))
	for i, v := range h {
		v = strings.TrimSpace(strings.TrimPrefix(v, "\ufeff"))
		out[i] = strings.TrimSuffix(v, " *")
	}
	return out
}

func buildRow(headers, cells []string, line int) (Row, bool) {
	fields := make(map[string]any, len(headers))
	for i, v := range cells {
		if i >= len(headers) || headers[i] == "" {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			fields[headers[i]] = v
		}
	}
	if len(fields) == 0 {
		return Row{}, false
	}
	return Row{Line: line, Fields: fields}, true
}
