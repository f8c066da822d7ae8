package model

// SuborderHint is an unresolved mention of a desired product pulled out
// of an email before catalog matching. Ephemeral: produced by extraction,
// consumed by retrieval and resolution, never persisted.
type SuborderHint struct {
	Description string       `json:"product_data"`
	Quantity    QuantityHint `json:"quantity"`
}

// RawOrderLine is an unmerged (product, quantity) pair as returned by the
// extraction service, before catalog lookup and stock policy.
type RawOrderLine struct {
	ProductID string       `json:"product_id"`
	Quantity  QuantityHint `json:"quantity"`
}

// OrderStatus is the stock decision for one order line.
type OrderStatus string

const (
	StatusCreated    OrderStatus = "created"
	StatusOutOfStock OrderStatus = "out of stock"
)

// OrderLine is a finalized per-product decision for one email: exactly
// one line per distinct product, immutable once written to the ledger.
type OrderLine struct {
	EmailID         string      `json:"email_id"`
	ProductID       string      `json:"product_id"`
	Quantity        int         `json:"quantity"`
	Status          OrderStatus `json:"status"`
	UnitPrice       float64     `json:"price"`
	StockAtDecision int         `json:"currently_in_stock"`
}

// Response is a persisted customer-facing reply, keyed by email for
// idempotent reprocessing.
type Response struct {
	EmailID string `json:"email_id"`
	Body    string `json:"response"`
}
