package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/fernwood/orderdesk/internal/model"
)

// ReadProductsXLSX loads the catalog from the named sheet of an XLSX
// workbook. An empty sheet name selects the "products" sheet, falling
// back to the first sheet when the workbook has no such tab.
func ReadProductsXLSX(path, sheetName string) ([]model.CatalogEntry, error) {
	rows, err := readSheet(path, sheetName, ProductSheet)
	if err != nil {
		return nil, err
	}
	return ParseProducts(rows)
}

// ReadEmailsXLSX loads emails from the named sheet of an XLSX workbook.
func ReadEmailsXLSX(path, sheetName string) ([]model.Email, error) {
	rows, err := readSheet(path, sheetName, EmailSheet)
	if err != nil {
		return nil, err
	}
	return ParseEmails(rows)
}

func readSheet(path, sheetName, defaultName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}

	if sheetName == "" {
		sheetName = defaultName
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("ingest: workbook %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
