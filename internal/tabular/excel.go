package tabular

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readWorkbook reads one worksheet of an XLSX-family workbook into raw rows.
//
// Sheet selection rules: an explicit selector must name an existing sheet;
// with no selector a single-sheet workbook uses that sheet, and a multi-sheet
// workbook fails with *AmbiguousSheetError so the caller can prompt for one.
func readWorkbook(path, selector string) (rows [][]string, sheet string, sheets []string, err error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", nil, &MalformedSourceError{Path: path, Reason: err.Error()}
	}
	defer file.Close()

	sheets = file.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", nil, &MalformedSourceError{Path: path, Reason: "workbook contains no worksheets"}
	}

	switch {
	case selector != "":
		sheet = ""
		for _, name := range sheets {
			if name == selector {
				sheet = name
				break
			}
		}
		if sheet == "" {
			return nil, "", nil, &MalformedSourceError{Path: path,
				Reason: fmt.Sprintf("worksheet %q not found", selector)}
		}
	case len(sheets) == 1:
		sheet = sheets[0]
	default:
		return nil, "", nil, &AmbiguousSheetError{Path: path, Sheets: append([]string(nil), sheets...)}
	}

	rows, err = file.GetRows(sheet)
	if err != nil {
		return nil, "", nil, &MalformedSourceError{Path: path, Reason: err.Error()}
	}
	return rows, sheet, sheets, nil
}
