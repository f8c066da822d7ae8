package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/orderdesk/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "orderdesk_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEmails() []model.Email {
	return []model.Email{
		{ID: "E001", Subject: "Leaf rakes", Body: "I need two leaf rakes please."},
		{ID: "E002", Subject: "Question", Body: "Do you sell frost covers?"},
	}
}

func testCatalog() []model.CatalogEntry {
	return []model.CatalogEntry{
		{ProductID: "SKU001", Name: "Garden Trowel", Category: "tools", Description: "Hand trowel with ash handle", Seasons: "spring", UnitPrice: 10, Stock: 8},
		{ProductID: "SKU002", Name: "Steel Rake", Category: "tools", Description: "Wide steel leaf rake", Seasons: "autumn", UnitPrice: 25.5, Stock: 3},
	}
}

func TestSQLiteImportEmails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.ImportEmails(ctx, testEmails())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	emails, err := s.ListEmails(ctx)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "E001", emails[0].ID)
	assert.Equal(t, "I need two leaf rakes please.", emails[0].Body)

	// reimport is an upsert, not a duplicate
	_, err = s.ImportEmails(ctx, testEmails())
	require.NoError(t, err)
	emails, err = s.ListEmails(ctx)
	require.NoError(t, err)
	assert.Len(t, emails, 2)
}

func TestSQLiteImportCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.ImportCatalog(ctx, testCatalog())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := s.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Garden Trowel", entries[0].Name)
	assert.Equal(t, 25.5, entries[1].UnitPrice)
	assert.Equal(t, 3, entries[1].Stock)

	// reimport refreshes attributes in place
	updated := testCatalog()
	updated[0].Stock = 1
	_, err = s.ImportCatalog(ctx, updated)
	require.NoError(t, err)

	entries, err = s.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Stock)
}

func TestSQLiteUpdateStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportCatalog(ctx, testCatalog())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStock(ctx, "SKU001", 5))

	entries, err := s.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, entries[0].Stock)

	err = s.UpdateStock(ctx, "SKU999", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteClassificationIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasClassification(ctx, "E001")
	require.NoError(t, err)
	assert.False(t, has)

	c := model.Classification{EmailID: "E001", Category: model.CategoryOrder}
	require.NoError(t, s.SaveClassification(ctx, c))

	// second save is a no-op, not an error
	c.Category = model.CategoryInquiry
	require.NoError(t, s.SaveClassification(ctx, c))

	has, err = s.HasClassification(ctx, "E001")
	require.NoError(t, err)
	assert.True(t, has)

	category, found, err := s.GetClassification(ctx, "E001")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.CategoryOrder, category, "first classification wins")

	_, found, err = s.GetClassification(ctx, "E999")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteOrderLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lines := []model.OrderLine{
		{EmailID: "E001", ProductID: "SKU001", Quantity: 2, Status: model.StatusCreated, UnitPrice: 10, StockAtDecision: 8},
		{EmailID: "E001", ProductID: "SKU002", Quantity: 5, Status: model.StatusOutOfStock, UnitPrice: 25.5, StockAtDecision: 3},
	}
	require.NoError(t, s.AppendOrderLines(ctx, lines))
	require.NoError(t, s.AppendOrderLines(ctx, nil))

	got, err := s.ListOrderLines(ctx, "E001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SKU001", got[0].ProductID)
	assert.Equal(t, model.StatusCreated, got[0].Status)
	assert.Equal(t, 5, got[1].Quantity)
	assert.Equal(t, model.StatusOutOfStock, got[1].Status)
	assert.Equal(t, 3, got[1].StockAtDecision)

	got, err = s.ListOrderLines(ctx, "E999")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteResponsesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasOrderResponse(ctx, "E001")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SaveOrderResponse(ctx, model.Response{EmailID: "E001", Body: "first"}))
	require.NoError(t, s.SaveOrderResponse(ctx, model.Response{EmailID: "E001", Body: "second"}))

	has, err = s.HasOrderResponse(ctx, "E001")
	require.NoError(t, err)
	assert.True(t, has)

	var body string
	err = s.db.QueryRowContext(ctx,
		`SELECT response FROM order_response WHERE email_id = ?`, "E001").Scan(&body)
	require.NoError(t, err)
	assert.Equal(t, "first", body)

	has, err = s.HasInquiryResponse(ctx, "E002")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SaveInquiryResponse(ctx, model.Response{EmailID: "E002", Body: "inquiry reply"}))
	has, err = s.HasInquiryResponse(ctx, "E002")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSQLiteGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportEmails(ctx, testEmails())
	require.NoError(t, err)
	_, err = s.ImportCatalog(ctx, testCatalog())
	require.NoError(t, err)
	require.NoError(t, s.SaveClassification(ctx, model.Classification{EmailID: "E001", Category: model.CategoryOrder}))
	require.NoError(t, s.AppendOrderLines(ctx, []model.OrderLine{
		{EmailID: "E001", ProductID: "SKU001", Quantity: 2, Status: model.StatusCreated, UnitPrice: 10, StockAtDecision: 8},
	}))
	require.NoError(t, s.SaveOrderResponse(ctx, model.Response{EmailID: "E001", Body: "done"}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Emails)
	assert.Equal(t, 2, stats.Products)
	assert.Equal(t, 1, stats.Classified)
	assert.Equal(t, 1, stats.OrderLines)
	assert.Equal(t, 1, stats.OrderResponses)
	assert.Equal(t, 0, stats.InquiryResponses)
}
