package fetcher

import (
	"archive/zip"
	"bytes"
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the worksheet to read.
type XLSXOptions struct {
	// Sheet names the worksheet. Empty selects the first sheet that has
	// rows, skipping blank cover sheets.
	Sheet string
}

// StreamXLSX sends every row of the selected worksheet, header included.
// Both channels are closed when the sheet is exhausted or ctx ends.
func StreamXLSX(ctx context.Context, data []byte, opts XLSXOptions) (<-chan []string, <-chan error) {
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return failed(eris.Wrap(err, "xlsx: open workbook"))
	}
	sheet, err := pickSheet(wb, opts.Sheet)
	if err != nil {
		return failed(err)
	}

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(rowCh)
		defer close(errCh)
		for _, row := range sheet.Rows {
			select {
			case rowCh <- cellValues(row):
			case <-ctx.Done():
				errCh <- eris.Wrapf(ctx.Err(), "xlsx: read sheet %q", sheet.Name)
				return
			}
		}
	}()
	return rowCh, errCh
}

func pickSheet(wb *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := wb.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	for _, sheet := range wb.Sheets {
		if len(sheet.Rows) > 0 {
			return sheet, nil
		}
	}
	return nil, eris.New("xlsx: workbook has no rows")
}

// cellValues renders a row for normalization. Numeric cells keep their
// stored value: formatted output would turn phone numbers into exponents and
// date serials into locale-specific strings.
func cellValues(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		if cell.Type() == xlsx.CellTypeNumeric {
			out[i] = cell.Value
			continue
		}
		out[i] = cell.String()
	}
	return out
}

// isWorkbook reports whether a ZIP container is an OOXML workbook.
func isWorkbook(data []byte) bool {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range r.File {
		if f.Name == "xl/workbook.xml" {
			return true
		}
	}
	return false
}
