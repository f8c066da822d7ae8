package ingest

import (
	"encoding/csv"
	"os"

	"github.com/rotisserie/eris"

	"github.com/fernwood/orderdesk/internal/model"
)

// ReadProductsCSV loads the catalog from a CSV export.
func ReadProductsCSV(path string) ([]model.CatalogEntry, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	return ParseProducts(rows)
}

// ReadEmailsCSV loads emails from a CSV export.
func ReadEmailsCSV(path string) ([]model.Email, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	return ParseEmails(rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are handled by the column map
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv")
	}
	return rows, nil
}
