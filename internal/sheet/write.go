package sheet

import (
	"bytes"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/credresolve/internal/model"
)

// Result sheet layout.
const (
	ResultSheetName = "Resultados"
	HeaderClientRef = "Client Reference"
	HeaderName      = "Name"
)

// WriteResults writes one row per result, in order, under a
// ("Client Reference", "Name") header. Failed rows carry "ERROR: <cause>".
func WriteResults(w io.Writer, results []model.RowResult) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ResultSheetName)
	if err != nil {
		return eris.Wrap(err, "sheet: add result sheet")
	}

	addRow(sheet, HeaderClientRef, HeaderName)
	for _, r := range results {
		addRow(sheet, r.ClientRef, r.Display())
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "sheet: write xlsx")
	}
	return nil
}

// EncodeResults returns the result spreadsheet as XLSX bytes.
func EncodeResults(results []model.RowResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ResultFilename is the suggested download name for a batch finished at t.
func ResultFilename(t time.Time) string {
	return "resultados_" + t.Format("2006-01-02") + ".xlsx"
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
