package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/orderdesk/internal/catalog"
	"github.com/fernwood/orderdesk/internal/config"
	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/internal/respond"
	"github.com/fernwood/orderdesk/internal/retrieval"
	"github.com/fernwood/orderdesk/internal/store"
)

type stubClassifier struct {
	categories map[string]model.Category
	err        error
	calls      int
}

func (s *stubClassifier) Classify(_ context.Context, email model.Email) (model.Category, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.categories[email.ID], nil
}

type stubReconciler struct {
	index *catalog.Index
	lines []model.OrderLine
	alts  []retrieval.Candidate
	calls int
}

// Reconcile mirrors the real reconciler's stock handling: check the
// index, decide the status, decrement immediately for created lines.
func (s *stubReconciler) Reconcile(_ context.Context, email model.Email) ([]model.OrderLine, []retrieval.Candidate) {
	s.calls++
	out := make([]model.OrderLine, len(s.lines))
	for i, line := range s.lines {
		line.EmailID = email.ID
		if entry, ok := s.index.Get(line.ProductID); ok {
			line.StockAtDecision = entry.Stock
			if line.Quantity <= entry.Stock {
				line.Status = model.StatusCreated
				_ = s.index.DecrementStock(line.ProductID, line.Quantity)
			} else {
				line.Status = model.StatusOutOfStock
			}
		}
		out[i] = line
	}
	return out, s.alts
}

type stubResponder struct{}

func (stubResponder) Compose(_ context.Context, email model.Email, plan respond.Plan) model.Response {
	return model.Response{EmailID: email.ID, Body: "order reply"}
}

func (stubResponder) ComposeInquiry(_ context.Context, email model.Email, candidates []retrieval.Candidate) model.Response {
	return model.Response{EmailID: email.ID, Body: "inquiry reply"}
}

type stubFinder struct {
	candidates []retrieval.Candidate
	findErr    error
	synced     []model.CatalogEntry
	queries    []string
}

func (s *stubFinder) SyncCatalog(_ context.Context, entries []model.CatalogEntry) error {
	s.synced = entries
	return nil
}

func (s *stubFinder) Find(_ context.Context, query string, k int) ([]retrieval.Candidate, error) {
	s.queries = append(s.queries, query)
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.candidates, nil
}

type runnerFixture struct {
	runner     *Runner
	store      *store.SQLiteStore
	index      *catalog.Index
	classifier *stubClassifier
	reconciler *stubReconciler
	finder     *stubFinder
}

func newFixture(t *testing.T) *runnerFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.ImportCatalog(ctx, []model.CatalogEntry{
		{ProductID: "SKU001", Name: "Garden Trowel", Category: "tools", UnitPrice: 10, Stock: 8},
		{ProductID: "SKU002", Name: "Steel Rake", Category: "tools", UnitPrice: 25.5, Stock: 3},
	})
	require.NoError(t, err)
	_, err = st.ImportEmails(ctx, []model.Email{
		{ID: "E001", Subject: "Order", Body: "Two trowels please"},
		{ID: "E002", Subject: "Question", Body: "Do you sell frost covers?"},
	})
	require.NoError(t, err)

	entries, err := st.ListCatalog(ctx)
	require.NoError(t, err)
	index := catalog.NewIndex(entries)

	classifier := &stubClassifier{categories: map[string]model.Category{
		"E001": model.CategoryOrder,
		"E002": model.CategoryInquiry,
	}}
	reconciler := &stubReconciler{
		index: index,
		lines: []model.OrderLine{
			{ProductID: "SKU001", Quantity: 2, Status: model.StatusCreated, UnitPrice: 10, StockAtDecision: 8},
		},
	}
	finder := &stubFinder{}

	return &runnerFixture{
		runner:     NewRunner(st, classifier, reconciler, stubResponder{}, finder, index, config.PipelineConfig{InquiryCandidates: 4}),
		store:      st,
		index:      index,
		classifier: classifier,
		reconciler: reconciler,
		finder:     finder,
	}
}

func TestRunProcessesMailbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	summary, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Orders)
	assert.Equal(t, 1, summary.Inquiries)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	lines, err := f.store.ListOrderLines(ctx, "E001")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "SKU001", lines[0].ProductID)

	// decremented stock was flushed back to the store
	entries, err := f.store.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, entries[0].Stock)

	has, err := f.store.HasOrderResponse(ctx, "E001")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = f.store.HasInquiryResponse(ctx, "E002")
	require.NoError(t, err)
	assert.True(t, has)

	// inquiry retrieval queried with the full email text
	require.Len(t, f.finder.queries, 1)
	assert.Contains(t, f.finder.queries[0], "frost covers")
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.reconciler.calls)

	summary, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, f.reconciler.calls, "answered emails never reach reconciliation")

	// stock untouched by the second pass
	entries, err := f.store.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, entries[0].Stock)

	lines, err := f.store.ListOrderLines(ctx, "E001")
	require.NoError(t, err)
	assert.Len(t, lines, 1, "order log not duplicated")
}

func TestRunReusesStoredClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveClassification(ctx, model.Classification{
		EmailID: "E001", Category: model.CategoryOrder,
	}))
	require.NoError(t, f.store.SaveClassification(ctx, model.Classification{
		EmailID: "E002", Category: model.CategoryInquiry,
	}))

	summary, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, f.classifier.calls, "stored labels skip the model call")
}

func TestRunCountsClassifierFailures(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = eris.New("api down")
	ctx := context.Background()

	summary, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Processed)

	has, err := f.store.HasOrderResponse(ctx, "E001")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRunInquiryRetrievalFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.finder.findErr = eris.New("chroma unreachable")
	ctx := context.Background()

	summary, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inquiries)
	assert.Equal(t, 0, summary.Failed)

	has, err := f.store.HasInquiryResponse(ctx, "E002")
	require.NoError(t, err)
	assert.True(t, has)
}

// flakyStore fails a configurable number of response saves, simulating
// a crash after order lines and stock are persisted but before the
// completion marker commits.
type flakyStore struct {
	store.Store
	failures int
}

func (s *flakyStore) SaveOrderResponse(ctx context.Context, r model.Response) error {
	if s.failures > 0 {
		s.failures--
		return eris.New("disk full")
	}
	return s.Store.SaveOrderResponse(ctx, r)
}

func TestRunResumesWithoutDoubleDecrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flaky := &flakyStore{Store: f.store, failures: 1}
	runner := NewRunner(flaky, f.classifier, f.reconciler, stubResponder{}, f.finder, f.index, config.PipelineConfig{})

	// First pass: the order email persists its lines and stock, then the
	// response save fails.
	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Inquiries)

	entries, err := f.store.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, entries[0].Stock, "first pass flushed the decrement")

	// Second pass resumes from the recorded order lines: no second
	// reconciliation, no second decrement, no duplicate rows.
	summary, err = runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Orders)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, f.reconciler.calls, "resume skips reconciliation")

	entries, err = f.store.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, entries[0].Stock, "stock decremented exactly once")

	lines, err := f.store.ListOrderLines(ctx, "E001")
	require.NoError(t, err)
	assert.Len(t, lines, 1, "no duplicate order rows")

	has, err := f.store.HasOrderResponse(ctx, "E001")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestProcessEmailSerializesStockDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Eight concurrent webhook deliveries each want 2 of SKU001 (stock 8):
	// exactly four orders can be created and stock must land at zero.
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("W%03d", i)
		f.classifier.categories[ids[i]] = model.CategoryOrder
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.runner.ProcessEmail(ctx, model.Email{ID: id, Subject: "Order", Body: "Two trowels please"})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	entry, ok := f.index.Get("SKU001")
	require.True(t, ok)
	assert.Equal(t, 0, entry.Stock)

	entries, err := f.store.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, entries[0].Stock, "persisted stock matches the index")

	created, rejected := 0, 0
	for _, id := range ids {
		lines, err := f.store.ListOrderLines(ctx, id)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		switch lines[0].Status {
		case model.StatusCreated:
			created++
		case model.StatusOutOfStock:
			rejected++
		}
	}
	assert.Equal(t, 4, created)
	assert.Equal(t, 4, rejected)
}

func TestSyncPushesSnapshot(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.runner.Sync(context.Background()))
	assert.Len(t, f.finder.synced, 2)
}
