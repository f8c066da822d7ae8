// Package retrieval wraps the vector store behind the candidate-lookup
// operations the reconciler needs. Result order always preserves the
// similarity ranking returned by the store; nothing here re-sorts.
package retrieval

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fernwood/orderdesk/internal/embedding"
	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/pkg/chroma"
)

// Candidate is one ranked catalog match for a retrieval query. Entry is a
// snapshot taken at index time; the catalog index remains the source of
// truth for live stock.
type Candidate struct {
	ProductID string
	Rank      int
	Document  string
	Entry     model.CatalogEntry
}

// Adapter runs semantic lookups against a Chroma collection, embedding
// queries with the configured engine.
type Adapter struct {
	chroma       chroma.Client
	engine       embedding.Engine
	collection   string
	collectionID string
}

// syncBatchSize bounds how many documents are embedded per request
// during catalog sync.
const syncBatchSize = 32

// NewAdapter creates a retrieval adapter over the named collection. The
// collection is created on first use if missing.
func NewAdapter(ctx context.Context, client chroma.Client, engine embedding.Engine, collection string) (*Adapter, error) {
	id, err := client.EnsureCollection(ctx, collection)
	if err != nil {
		return nil, eris.Wrapf(err, "retrieval: ensure collection %s", collection)
	}
	return &Adapter{
		chroma:       client,
		engine:       engine,
		collection:   collection,
		collectionID: id,
	}, nil
}

// Find returns up to k candidates for free text, ordered by descending
// similarity. An empty result is a valid, non-error outcome.
func (a *Adapter) Find(ctx context.Context, query string, k int) ([]Candidate, error) {
	return a.find(ctx, query, k, nil)
}

// FindInCategory restricts Find to a single catalog category.
func (a *Adapter) FindInCategory(ctx context.Context, query string, k int, category string) ([]Candidate, error) {
	return a.find(ctx, query, k, map[string]any{"category": category})
}

func (a *Adapter) find(ctx context.Context, query string, k int, where map[string]any) ([]Candidate, error) {
	vec, err := a.engine.Embed(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: embed query")
	}

	resp, err := a.chroma.Query(ctx, a.collectionID, chroma.QueryRequest{
		Embedding: vec,
		K:         k,
		Where:     where,
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: query")
	}

	candidates := make([]Candidate, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		c := Candidate{ProductID: id, Rank: i}
		if i < len(resp.Documents) {
			c.Document = resp.Documents[i]
		}
		if i < len(resp.Metadatas) {
			c.Entry = entryFromMetadata(id, resp.Metadatas[i])
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// Lookup fetches the indexed record for an exact product ID. Returns
// (zero, false, nil) when the product has not been indexed.
func (a *Adapter) Lookup(ctx context.Context, productID string) (Candidate, bool, error) {
	recs, err := a.chroma.Get(ctx, a.collectionID, []string{productID})
	if err != nil {
		return Candidate{}, false, eris.Wrapf(err, "retrieval: lookup %s", productID)
	}
	if recs == nil || len(recs.IDs) == 0 {
		return Candidate{}, false, nil
	}

	c := Candidate{ProductID: recs.IDs[0]}
	if len(recs.Documents) > 0 {
		c.Document = recs.Documents[0]
	}
	if len(recs.Metadatas) > 0 {
		c.Entry = entryFromMetadata(recs.IDs[0], recs.Metadatas[0])
	}
	return c, true, nil
}

// SyncCatalog upserts every catalog entry into the collection, embedding
// documents in bounded concurrent batches. Entries keep their product ID
// as the record ID, so re-syncing replaces rather than duplicates.
func (a *Adapter) SyncCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	results := make([]chroma.Records, (len(entries)+syncBatchSize-1)/syncBatchSize)
	for bi := 0; bi*syncBatchSize < len(entries); bi++ {
		start := bi * syncBatchSize
		end := min(start+syncBatchSize, len(entries))
		chunk := entries[start:end]

		g.Go(func() error {
			docs := make([]string, len(chunk))
			ids := make([]string, len(chunk))
			metas := make([]map[string]any, len(chunk))
			for i, e := range chunk {
				ids[i] = e.ProductID
				docs[i] = e.Document()
				metas[i] = metadataFromEntry(e)
			}

			vecs, err := a.engine.EmbedBatch(gCtx, docs)
			if err != nil {
				return eris.Wrap(err, "retrieval: embed catalog batch")
			}
			if len(vecs) != len(docs) {
				return eris.Errorf("retrieval: embedding count %d does not match batch size %d", len(vecs), len(docs))
			}

			results[bi] = chroma.Records{
				IDs:        ids,
				Embeddings: vecs,
				Documents:  docs,
				Metadatas:  metas,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, recs := range results {
		if err := a.chroma.Upsert(ctx, a.collectionID, recs); err != nil {
			return err
		}
	}

	zap.L().Info("retrieval: catalog synced",
		zap.String("collection", a.collection),
		zap.Int("entries", len(entries)),
		zap.String("engine", a.engine.Name()),
	)
	return nil
}

func metadataFromEntry(e model.CatalogEntry) map[string]any {
	return map[string]any{
		"product_id":  e.ProductID,
		"name":        e.Name,
		"category":    e.Category,
		"description": e.Description,
		"seasons":     e.Seasons,
		"price":       e.UnitPrice,
		"stock":       e.Stock,
	}
}

func entryFromMetadata(id string, meta map[string]any) model.CatalogEntry {
	e := model.CatalogEntry{ProductID: id}
	if v, ok := meta["name"].(string); ok {
		e.Name = v
	}
	if v, ok := meta["category"].(string); ok {
		e.Category = v
	}
	if v, ok := meta["description"].(string); ok {
		e.Description = v
	}
	if v, ok := meta["seasons"].(string); ok {
		e.Seasons = v
	}
	switch v := meta["price"].(type) {
	case float64:
		e.UnitPrice = v
	case int:
		e.UnitPrice = float64(v)
	}
	switch v := meta["stock"].(type) {
	case float64:
		e.Stock = int(v)
	case int:
		e.Stock = v
	}
	return e
}
