// Package ingest parses product catalog and email sheets from XLSX or
// CSV files into model types. Column order is header-driven, so sheets
// exported with rearranged columns still load.
package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/model"
)

// Sheet names expected in a combined workbook.
const (
	ProductSheet = "products"
	EmailSheet   = "emails"
)

type columnMap map[string]int

func mapHeader(header []string) columnMap {
	m := make(columnMap, len(header))
	for i, name := range header {
		m[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return m
}

func (m columnMap) get(row []string, name string) string {
	i, ok := m[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (m columnMap) require(names ...string) error {
	for _, name := range names {
		if _, ok := m[name]; !ok {
			return eris.Errorf("ingest: missing required column %q", name)
		}
	}
	return nil
}

// ParseProducts converts raw sheet rows (header first) into catalog
// entries. Rows with a blank product id or unparseable numbers are
// skipped with a warning rather than failing the import.
func ParseProducts(rows [][]string) ([]model.CatalogEntry, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: product sheet is empty")
	}
	cols := mapHeader(rows[0])
	if err := cols.require("product_id", "name", "stock"); err != nil {
		return nil, err
	}

	var entries []model.CatalogEntry
	for i, row := range rows[1:] {
		id := cols.get(row, "product_id")
		if id == "" {
			continue
		}

		price, err := parseFloat(cols.get(row, "price"))
		if err != nil {
			zap.L().Warn("skipping product with bad price",
				zap.String("product_id", id),
				zap.Int("row", i+2),
				zap.Error(err))
			continue
		}
		stock, err := parseInt(cols.get(row, "stock"))
		if err != nil {
			zap.L().Warn("skipping product with bad stock",
				zap.String("product_id", id),
				zap.Int("row", i+2),
				zap.Error(err))
			continue
		}

		entries = append(entries, model.CatalogEntry{
			ProductID:   id,
			Name:        cols.get(row, "name"),
			Category:    cols.get(row, "category"),
			Description: cols.get(row, "description"),
			Seasons:     cols.get(row, "seasons"),
			UnitPrice:   price,
			Stock:       stock,
		})
	}
	return entries, nil
}

// ParseEmails converts raw sheet rows (header first) into emails.
func ParseEmails(rows [][]string) ([]model.Email, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: email sheet is empty")
	}
	cols := mapHeader(rows[0])
	if err := cols.require("email_id", "message"); err != nil {
		return nil, err
	}

	var emails []model.Email
	for _, row := range rows[1:] {
		id := cols.get(row, "email_id")
		if id == "" {
			continue
		}
		emails = append(emails, model.Email{
			ID:      id,
			Subject: cols.get(row, "subject"),
			Body:    cols.get(row, "message"),
		})
	}
	return emails, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	// spreadsheet exports often render integers as "8.0"
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
