// Package reconcile turns a classified order email into finalized order
// lines and stock decisions. Extraction and retrieval failures degrade
// to empty results at every step; the reconciler always returns
// whatever it could resolve and never propagates adapter errors.
package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/catalog"
	"github.com/fernwood/orderdesk/internal/config"
	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/internal/retrieval"
)

// Extractor is the slice of the LLM adapter the reconciler needs.
type Extractor interface {
	ExtractSuborders(ctx context.Context, email model.Email) ([]model.SuborderHint, error)
	ResolveOrderLines(ctx context.Context, email model.Email, hints []model.SuborderHint, productsContext string) ([]model.RawOrderLine, error)
}

// Retriever is the slice of the retrieval adapter the reconciler needs.
type Retriever interface {
	Find(ctx context.Context, query string, k int) ([]retrieval.Candidate, error)
	FindInCategory(ctx context.Context, query string, k int, category string) ([]retrieval.Candidate, error)
}

// Reconciler owns the order branch of the pipeline. It mutates catalog
// stock in place; persisting mutated entries is the caller's
// post-condition, via Index.TakeMutated.
type Reconciler struct {
	extractor Extractor
	retriever Retriever
	index     *catalog.Index

	suborderK    int
	alternativeK int
	fallbackK    int
}

// NewReconciler wires the reconciler. Zero candidate counts in cfg fall
// back to 3 suborder, 5 alternative, and 5 fallback candidates.
func NewReconciler(extractor Extractor, retriever Retriever, index *catalog.Index, cfg config.PipelineConfig) *Reconciler {
	r := &Reconciler{
		extractor:    extractor,
		retriever:    retriever,
		index:        index,
		suborderK:    cfg.SuborderCandidates,
		alternativeK: cfg.AlternativeCandidates,
		fallbackK:    cfg.FallbackCandidates,
	}
	if r.suborderK <= 0 {
		r.suborderK = 3
	}
	if r.alternativeK <= 0 {
		r.alternativeK = 5
	}
	if r.fallbackK <= 0 {
		r.fallbackK = 5
	}
	return r
}

// Reconcile resolves one order email into finalized lines plus
// alternative suggestions for anything out of stock. Created lines have
// already decremented the catalog index when this returns.
func (r *Reconciler) Reconcile(ctx context.Context, email model.Email) ([]model.OrderLine, []retrieval.Candidate) {
	hints, err := r.extractor.ExtractSuborders(ctx, email)
	if err != nil {
		zap.L().Warn("reconcile: suborder extraction failed",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		hints = nil
	}
	if len(hints) == 0 {
		zap.L().Warn("reconcile: no suborders extracted, falling back to raw email text",
			zap.String("email_id", email.ID),
		)
		hints = []model.SuborderHint{{Description: email.Text(), Quantity: model.NoQuantity()}}
	}

	// Candidate pool accumulates across hints; duplicates are fine,
	// resolution dedupes by product.
	var pool []retrieval.Candidate
	for _, hint := range hints {
		candidates, err := r.retriever.Find(ctx, hint.Description, r.suborderK)
		if err != nil {
			zap.L().Warn("reconcile: candidate retrieval failed",
				zap.String("email_id", email.ID),
				zap.Error(err),
			)
			continue
		}
		pool = append(pool, candidates...)
	}

	raw, err := r.extractor.ResolveOrderLines(ctx, email, hints, retrieval.FormatContext(pool))
	if err != nil {
		zap.L().Warn("reconcile: order-line resolution failed",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		raw = nil
	}

	lines := r.finalize(email, mergeRawLines(raw))

	var alternatives []retrieval.Candidate
	for _, line := range lines {
		if line.Status != model.StatusOutOfStock {
			continue
		}
		alternatives = append(alternatives, r.findAlternatives(ctx, email, line)...)
	}
	alternatives = dedupeCandidates(alternatives)

	// Nothing resolved at all: one last raw-text pass so the reply can
	// still point at something relevant.
	if len(lines) == 0 && len(alternatives) == 0 {
		alternatives = r.fallbackCandidates(ctx, email)
	}

	return lines, alternatives
}

// mergedLine groups every quantity hint that resolved to one product,
// in first-seen order.
type mergedLine struct {
	productID string
	hints     []model.QuantityHint
}

// mergeRawLines collapses duplicate product references. Order lines for
// the same product are summed at resolution, never emitted twice.
func mergeRawLines(raw []model.RawOrderLine) []mergedLine {
	byID := make(map[string]int, len(raw))
	var merged []mergedLine
	for _, line := range raw {
		if line.ProductID == "" {
			continue
		}
		if i, ok := byID[line.ProductID]; ok {
			merged[i].hints = append(merged[i].hints, line.Quantity)
			continue
		}
		byID[line.ProductID] = len(merged)
		merged = append(merged, mergedLine{productID: line.ProductID, hints: []model.QuantityHint{line.Quantity}})
	}
	return merged
}

// finalize runs the quantity policy and stock decision per merged
// product, decrementing stock immediately so later lines in the same
// email see the reduced quantity. Products missing from the catalog are
// dropped, never fabricated.
func (r *Reconciler) finalize(email model.Email, merged []mergedLine) []model.OrderLine {
	var lines []model.OrderLine
	for _, m := range merged {
		entry, ok := r.index.Get(m.productID)
		if !ok {
			zap.L().Warn("reconcile: resolved product not in catalog, dropping line",
				zap.String("email_id", email.ID),
				zap.String("product_id", m.productID),
			)
			continue
		}

		stock := entry.Stock
		quantity := 0
		for _, hint := range m.hints {
			quantity += ResolveQuantity(hint, stock)
		}

		line := model.OrderLine{
			EmailID:         email.ID,
			ProductID:       m.productID,
			Quantity:        quantity,
			Status:          model.StatusOutOfStock,
			UnitPrice:       entry.UnitPrice,
			StockAtDecision: stock,
		}
		if quantity <= stock {
			line.Status = model.StatusCreated
			if err := r.index.DecrementStock(m.productID, quantity); err != nil {
				zap.L().Error("reconcile: stock decrement rejected",
					zap.String("email_id", email.ID),
					zap.String("product_id", m.productID),
					zap.Error(err),
				)
				line.Status = model.StatusOutOfStock
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// findAlternatives retrieves in-stock substitutes for an out-of-stock
// line: same category, excluding the product itself, retrieval order
// preserved. Stock is checked against the live index, not the indexed
// snapshot.
func (r *Reconciler) findAlternatives(ctx context.Context, email model.Email, line model.OrderLine) []retrieval.Candidate {
	entry, ok := r.index.Get(line.ProductID)
	if !ok {
		return nil
	}

	candidates, err := r.retriever.FindInCategory(ctx, entry.Document(), r.alternativeK, entry.Category)
	if err != nil {
		zap.L().Warn("reconcile: alternative retrieval failed",
			zap.String("email_id", email.ID),
			zap.String("product_id", line.ProductID),
			zap.Error(err),
		)
		return nil
	}

	var out []retrieval.Candidate
	for _, c := range candidates {
		if c.ProductID == line.ProductID {
			continue
		}
		live, ok := r.index.Get(c.ProductID)
		if !ok || live.Stock <= 0 {
			continue
		}
		c.Entry = live
		out = append(out, c)
	}
	return out
}

// fallbackCandidates is the step-of-last-resort retrieval over the raw
// email text, used when nothing at all resolved.
func (r *Reconciler) fallbackCandidates(ctx context.Context, email model.Email) []retrieval.Candidate {
	candidates, err := r.retriever.Find(ctx, email.Text(), r.fallbackK)
	if err != nil {
		zap.L().Warn("reconcile: fallback retrieval failed",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		return nil
	}

	var out []retrieval.Candidate
	for _, c := range candidates {
		if live, ok := r.index.Get(c.ProductID); ok {
			c.Entry = live
		}
		out = append(out, c)
	}
	return out
}

func dedupeCandidates(candidates []retrieval.Candidate) []retrieval.Candidate {
	seen := make(map[string]bool, len(candidates))
	var out []retrieval.Candidate
	for _, c := range candidates {
		if seen[c.ProductID] {
			continue
		}
		seen[c.ProductID] = true
		out = append(out, c)
	}
	return out
}
