package tabular

import (
	"fmt"
	"strings"
)

// Record maps column names to the raw cell value for one data row.
// Values stay untyped strings; coercion happens at fill time.
type Record map[string]string

// Table is the result of loading one tabular source.
type Table struct {
	Path    string   `json:"path"`
	Sheet   string   `json:"sheet,omitempty"`
	Sheets  []string `json:"sheets,omitempty"`
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// Options controls how a source file is interpreted.
// Row and column offsets are 0-based.
type Options struct {
	// Sheet selects a worksheet by name for multi-sheet formats.
	Sheet string

	// HeaderRow is the row index holding column names.
	HeaderRow int

	// DataRow is the first data row index. Zero means HeaderRow+1.
	DataRow int

	// FirstColumn skips leading label/index columns.
	FirstColumn int
}

// AmbiguousSheetError reports a multi-sheet workbook loaded without a
// sheet selector. Sheets lists every worksheet so the caller can resupply one.
type AmbiguousSheetError struct {
	Path   string
	Sheets []string
}

func (e *AmbiguousSheetError) Error() string {
	return fmt.Sprintf("workbook %s has %d sheets, a sheet must be selected: %s",
		e.Path, len(e.Sheets), strings.Join(e.Sheets, ", "))
}

// MalformedSourceError reports a source whose shape cannot produce a usable
// schema or record set.
type MalformedSourceError struct {
	Path   string
	Reason string
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("malformed source %s: %s", e.Path, e.Reason)
}

// UnsupportedFormatError reports a file extension the loader cannot handle.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported source type %q for %s (supported: %s)",
		e.Ext, e.Path, strings.Join(SupportedExtensions(), ", "))
}
