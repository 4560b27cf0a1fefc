package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX opens the workbook at path and returns the rows of its first
// sheet as string slices. The first returned row is the header row, if any.
func ReadXLSX(path string) ([][]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open xlsx %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("fetcher: xlsx %s has no sheets", path)
	}

	sheet := wb.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		fields := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			fields = append(fields, cell.String())
		}
		rows = append(rows, fields)
	}
	return rows, nil
}
