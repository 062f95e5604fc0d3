package artifact

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// SheetInfo summarizes one worksheet.
type SheetInfo struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

// Sheets lists the worksheets of an xlsx workbook with their row counts.
func Sheets(path string) ([]SheetInfo, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	out := make([]SheetInfo, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		out = append(out, SheetInfo{Name: name, Rows: len(rows)})
	}
	return out, nil
}
