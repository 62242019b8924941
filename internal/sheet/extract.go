package sheet

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credresolve/internal/model"
)

// ErrNoValidRows is returned when a spreadsheet yields no usable credentials.
var ErrNoValidRows = eris.New("sheet: no valid rows")

// minCells is the number of leading columns a row must supply:
// identifier, secret, client reference.
const minCells = 3

// ExtractRows turns raw spreadsheet rows into credential rows. The first row
// is a header and is skipped. Rows that are too short or have an empty field
// after normalization are dropped.
func ExtractRows(raw [][]string) []model.CredentialRow {
	if len(raw) <= 1 {
		return nil
	}

	rows := make([]model.CredentialRow, 0, len(raw)-1)
	for _, cells := range raw[1:] {
		if len(cells) < minCells {
			continue
		}
		row := model.CredentialRow{
			Identifier: digitsOnly(cells[0]),
			Secret:     strings.TrimSpace(cells[1]),
			ClientRef:  strings.TrimSpace(cells[2]),
		}
		if !row.Valid() {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Load reads a spreadsheet and extracts its credential rows.
func Load(path string) ([]model.CredentialRow, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	rows := ExtractRows(raw)
	if len(rows) == 0 {
		return nil, ErrNoValidRows
	}

	dataRows := len(raw) - 1
	if dataRows < 0 {
		dataRows = 0
	}
	zap.L().Debug("sheet: extracted rows",
		zap.Int("raw_rows", dataRows),
		zap.Int("valid_rows", len(rows)),
		zap.Int("skipped", dataRows-len(rows)),
	)
	return rows, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
