// Package store persists the order-intake ledger: emails, catalog,
// classification log, order-status log, and the response logs. Outcome
// rows are keyed by email id; their existence is the idempotency marker
// that keeps a reprocessed email from mutating stock twice.
package store

import (
	"context"

	"github.com/fernwood/orderdesk/internal/model"
)

// Stats summarizes ledger progress for the status command.
type Stats struct {
	Emails           int `json:"emails"`
	Products         int `json:"products"`
	Classified       int `json:"classified"`
	OrderLines       int `json:"order_lines"`
	OrderResponses   int `json:"order_responses"`
	InquiryResponses int `json:"inquiry_responses"`
}

// Store defines the persistence interface for the order-intake pipeline.
type Store interface {
	// Inputs
	ListEmails(ctx context.Context) ([]model.Email, error)
	ListCatalog(ctx context.Context) ([]model.CatalogEntry, error)
	ImportEmails(ctx context.Context, emails []model.Email) (int, error)
	ImportCatalog(ctx context.Context, entries []model.CatalogEntry) (int, error)
	UpdateStock(ctx context.Context, productID string, stock int) error

	// Classification log
	HasClassification(ctx context.Context, emailID string) (bool, error)
	GetClassification(ctx context.Context, emailID string) (model.Category, bool, error)
	SaveClassification(ctx context.Context, c model.Classification) error

	// Order-status log (append-only, one row per finalized line)
	AppendOrderLines(ctx context.Context, lines []model.OrderLine) error
	ListOrderLines(ctx context.Context, emailID string) ([]model.OrderLine, error)

	// Response logs
	HasOrderResponse(ctx context.Context, emailID string) (bool, error)
	SaveOrderResponse(ctx context.Context, r model.Response) error
	HasInquiryResponse(ctx context.Context, emailID string) (bool, error)
	SaveInquiryResponse(ctx context.Context, r model.Response) error

	// Reporting
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
