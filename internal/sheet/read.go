// Package sheet reads credential spreadsheets and writes result spreadsheets.
package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrUnsupportedFormat is returned for files that are not XLSX, XLS or CSV.
var ErrUnsupportedFormat = eris.New("sheet: unsupported file format")

// ReadFile reads every row of the first sheet of an XLSX or legacy XLS
// workbook, or every record of a CSV file, as raw string cells. The header
// row is included.
func ReadFile(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".xls":
		return readXLS(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "sheet: open csv")
		}
		defer f.Close()
		return readCSV(f)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "sheet: %s", filepath.Base(path))
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("sheet: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// readXLS reads the first sheet of a BIFF workbook. Columns keep their
// position: a row starting at column B still has an empty first cell.
func readXLS(path string) (rows [][]string, err error) {
	// The decoder panics on some truncated files.
	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = eris.New(fmt.Sprintf("sheet: open xls: malformed workbook: %v", r))
		}
	}()

	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xls")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, eris.New("sheet: workbook has no sheets")
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := range cells {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// rowToStrings keeps numeric cells in their stored form so long identifiers
// are not rendered in scientific notation.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		if cell.Type() == xlsx.CellTypeNumeric {
			cells[j] = cell.Value
			continue
		}
		cells[j] = cell.String()
	}
	return cells
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "sheet: read csv row")
		}
		rows = append(rows, record)
	}
}
