package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TABULAR SOURCES - CSV and XLSX files to rows
// =============================================================================

// Row is one data line of a source file. Line is the 1-based line in the
// file (the header is line 1). Values are keyed by normalized header.
type Row struct {
	Line   int
	Values map[string]any
}

// NormalizeHeader lowercases and trims a column header and joins words
// with underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
}

// ReadFile picks a reader by file extension.
func ReadFile(name string, r io.Reader) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	}
	return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
}

// ReadCSV reads a CSV stream with a header row.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var table [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		table = append(table, rec)
	}
	return rowsFromTable(table)
}

// ReadXLSX reads the first sheet of a workbook. Cells are read raw so
// date cells keep their serial numbers.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	table, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rowsFromTable(table)
}

func rowsFromTable(table [][]string) ([]Row, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	headers := make([]string, len(table[0]))
	for i, h := range table[0] {
		headers[i] = NormalizeHeader(h)
	}

	var rows []Row
	for i, rec := range table[1:] {
		values := make(map[string]any, len(headers))
		blank := true
		for j, h := range headers {
			if h == "" || j >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[j])
			if v != "" {
				blank = false
			}
			values[h] = v
		}
		if blank {
			continue
		}
		rows = append(rows, Row{Line: i + 2, Values: values})
	}
	return rows, nil
}
