package feeds

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// parseXLSX reads the first sheet of a spreadsheet seed list. The first row
// must be a header with a recognizable name column.
func parseXLSX(r io.Reader) ([]SeedEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read")
	}

	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cm, ok := mapColumns(rowCells(sheet.Rows[0]))
	if !ok {
		return nil, eris.New("xlsx: no name column in header row")
	}

	var entries []SeedEntry
	for _, row := range sheet.Rows[1:] {
		if e, ok := cm.entry(rowCells(row)); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func rowCells(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
