// Package tabular loads spreadsheet-like record sources (CSV, TSV, XLSX)
// into an ordered schema plus a sequence of records.
package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SupportedExtensions returns the file extensions the loader accepts.
func SupportedExtensions() []string {
	return []string{".csv", ".tsv", ".xlsx", ".xlsm", ".xltx", ".xltm"}
}

// Load reads the source at path and shapes it according to opts.
//
// The returned schema preserves on-disk left-to-right column order starting
// at opts.FirstColumn. Multi-sheet workbooks require opts.Sheet unless they
// contain exactly one sheet; otherwise Load fails with *AmbiguousSheetError.
func Load(path string, opts Options) (*Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("cannot access source %s: %w", abs, err)
	}

	var (
		rows   [][]string
		sheet  string
		sheets []string
	)

	ext := strings.ToLower(filepath.Ext(abs))
	switch ext {
	case ".csv":
		rows, err = readDelimited(abs, ',')
	case ".tsv":
		rows, err = readDelimited(abs, '\t')
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		rows, sheet, sheets, err = readWorkbook(abs, opts.Sheet)
	default:
		return nil, &UnsupportedFormatError{Path: abs, Ext: ext}
	}
	if err != nil {
		return nil, err
	}

	table, err := shape(abs, rows, opts)
	if err != nil {
		return nil, err
	}
	table.Sheet = sheet
	table.Sheets = sheets
	return table, nil
}

// readDelimited reads a CSV or TSV file into raw rows.
func readDelimited(path string, comma rune) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = comma
	reader.FieldsPerRecord = -1 // ragged rows are padded during shaping
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &MalformedSourceError{Path: path, Reason: err.Error()}
	}
	return rows, nil
}

// shape applies offsets, validates the header, and builds records.
func shape(path string, rows [][]string, opts Options) (*Table, error) {
	if opts.HeaderRow < 0 || opts.DataRow < 0 || opts.FirstColumn < 0 {
		return nil, &MalformedSourceError{Path: path, Reason: "offsets must not be negative"}
	}

	headerIdx := opts.HeaderRow
	dataIdx := opts.DataRow
	if dataIdx == 0 {
		dataIdx = headerIdx + 1
	}
	if dataIdx <= headerIdx {
		return nil, &MalformedSourceError{Path: path, Reason: "data row must come after the header row"}
	}
	if headerIdx >= len(rows) {
		return nil, &MalformedSourceError{Path: path,
			Reason: fmt.Sprintf("header row %d exceeds available rows (%d)", headerIdx, len(rows))}
	}

	header := rows[headerIdx]
	if opts.FirstColumn >= len(header) {
		return nil, &MalformedSourceError{Path: path,
			Reason: fmt.Sprintf("first column %d exceeds available columns (%d)", opts.FirstColumn, len(header))}
	}

	columns, err := normalizeHeader(path, header[opts.FirstColumn:])
	if err != nil {
		return nil, err
	}

	if dataIdx >= len(rows) {
		return nil, &MalformedSourceError{Path: path, Reason: "source contains no data rows"}
	}

	records := make([]Record, 0, len(rows)-dataIdx)
	for _, row := range rows[dataIdx:] {
		rec := make(Record, len(columns))
		for i, col := range columns {
			idx := opts.FirstColumn + i
			if idx < len(row) {
				rec[col] = row[idx]
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}

	return &Table{Path: path, Columns: columns, Records: records}, nil
}

// normalizeHeader trims and collapses whitespace in column names, substitutes
// placeholders for blank cells, and rejects duplicates. Names that collide
// case-insensitively after trimming count as duplicates.
func normalizeHeader(path string, raw []string) ([]string, error) {
	columns := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	empty := true
	for i, cell := range raw {
		name := strings.Join(strings.Fields(cell), " ")
		if name == "" {
			name = fmt.Sprintf("Column %d", i+1)
		} else {
			empty = false
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, &MalformedSourceError{Path: path,
				Reason: fmt.Sprintf("duplicate column name %q in header", name)}
		}
		seen[key] = struct{}{}
		columns = append(columns, name)
	}
	if empty {
		return nil, &MalformedSourceError{Path: path, Reason: "header row is empty"}
	}
	return columns, nil
}
