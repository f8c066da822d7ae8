package model

import "fmt"

// CatalogEntry is one product row from the catalog sheet. Stock is the
// only field mutated during a run, and only by the reconciler.
type CatalogEntry struct {
	ProductID   string  `json:"product_id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Seasons     string  `json:"seasons"`
	UnitPrice   float64 `json:"price"`
	Stock       int     `json:"stock"`
}

// Document composes the retrieval document text for this entry. The same
// text is indexed and returned by the retrieval service, so inquiries and
// order matching see identical product descriptions.
func (e CatalogEntry) Document() string {
	return fmt.Sprintf(
		"%s: %s\nThe product (ID: %s) belongs to the category %s and is great in %s. The cost of the product is %.2f.",
		e.Name, e.Description, e.ProductID, e.Category, e.Seasons, e.UnitPrice,
	)
}
