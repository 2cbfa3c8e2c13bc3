package tabular

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the sheet to read.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads one sheet of an XLSX file as string rows.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// Sheet is one worksheet to write. Cells may be string, float64, int, or
// nil (blank).
type Sheet struct {
	Name string
	Rows [][]any
}

// WriteXLSX saves sheets to a new workbook at path.
func WriteXLSX(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return eris.New("xlsx: no sheets to write")
	}
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.Name)
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %q", s.Name)
		}
		for _, values := range s.Rows {
			row := sheet.AddRow()
			for _, v := range values {
				setCell(row.AddCell(), v)
			}
		}
	}
	return eris.Wrap(f.Save(path), "xlsx: save file")
}

func setCell(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
	case string:
		cell.SetString(x)
	case float64:
		cell.SetFloat(x)
	case *float64:
		if x != nil {
			cell.SetFloat(*x)
		}
	case int:
		cell.SetInt(x)
	default:
		cell.SetValue(x)
	}
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
