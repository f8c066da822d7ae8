// Package catalog holds the in-memory mirror of the product catalog used
// during a pipeline run. Individual operations are safe under the
// internal mutex, but a check-then-decrement sequence still needs an
// outer serializer (the pipeline runner provides one).
package catalog

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/fernwood/orderdesk/internal/model"
)

// Index mirrors the catalog sheet keyed by product ID. It is the source
// of truth for price and stock for the duration of a run; every stock
// mutation is recorded so the caller can persist exactly the touched rows.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*model.CatalogEntry
	order   []string
	mutated map[string]bool
}

// NewIndex builds an index from catalog rows. Later duplicates of a
// product ID replace earlier ones, matching spreadsheet semantics where
// the last write wins.
func NewIndex(entries []model.CatalogEntry) *Index {
	idx := &Index{
		entries: make(map[string]*model.CatalogEntry, len(entries)),
		mutated: make(map[string]bool),
	}
	for _, e := range entries {
		e := e
		if _, seen := idx.entries[e.ProductID]; !seen {
			idx.order = append(idx.order, e.ProductID)
		}
		idx.entries[e.ProductID] = &e
	}
	return idx
}

// Get returns the entry for a product ID, or false when the product is
// not in the catalog.
func (x *Index) Get(productID string) (model.CatalogEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[productID]
	if !ok {
		return model.CatalogEntry{}, false
	}
	return *e, true
}

// Len returns the number of distinct products in the index.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}

// DecrementStock reduces the stock of a product. The reconciler only
// calls this after verifying quantity <= stock, so a violation here is a
// programming error, not a recoverable condition.
func (x *Index) DecrementStock(productID string, quantity int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[productID]
	if !ok {
		return eris.Errorf("catalog: unknown product %s", productID)
	}
	if quantity <= 0 {
		return eris.Errorf("catalog: non-positive decrement %d for product %s", quantity, productID)
	}
	if quantity > e.Stock {
		return eris.Errorf("catalog: decrement %d exceeds stock %d for product %s", quantity, e.Stock, productID)
	}
	e.Stock -= quantity
	x.mutated[productID] = true
	return nil
}

// Snapshot returns all entries in load order, reflecting any stock
// mutations applied so far.
func (x *Index) Snapshot() []model.CatalogEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.CatalogEntry, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, *x.entries[id])
	}
	return out
}

// TakeMutated returns the entries whose stock changed since the last
// call and resets the mutation set. The pipeline persists exactly these
// rows after each email so a crash never loses or repeats a decrement.
func (x *Index) TakeMutated() []model.CatalogEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.mutated) == 0 {
		return nil
	}
	out := make([]model.CatalogEntry, 0, len(x.mutated))
	for _, id := range x.order {
		if x.mutated[id] {
			out = append(out, *x.entries[id])
		}
	}
	x.mutated = make(map[string]bool)
	return out
}
