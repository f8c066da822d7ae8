// Package pipeline orchestrates the email intake run: classify each
// email, reconcile orders against the catalog, and persist a response.
// Every outcome write is keyed by email id, so a rerun over the same
// mailbox skips already-answered emails instead of mutating stock again.
package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/catalog"
	"github.com/fernwood/orderdesk/internal/config"
	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/internal/respond"
	"github.com/fernwood/orderdesk/internal/retrieval"
	"github.com/fernwood/orderdesk/internal/store"
)

// Classifier labels an email as an order request or a product inquiry.
type Classifier interface {
	Classify(ctx context.Context, email model.Email) (model.Category, error)
}

// OrderReconciler turns an order email into finalized order lines plus
// alternative suggestions for anything out of stock.
type OrderReconciler interface {
	Reconcile(ctx context.Context, email model.Email) ([]model.OrderLine, []retrieval.Candidate)
}

// Responder composes the customer-facing reply for each branch.
type Responder interface {
	Compose(ctx context.Context, email model.Email, plan respond.Plan) model.Response
	ComposeInquiry(ctx context.Context, email model.Email, candidates []retrieval.Candidate) model.Response
}

// Finder is the semantic search surface the inquiry branch uses.
type Finder interface {
	SyncCatalog(ctx context.Context, entries []model.CatalogEntry) error
	Find(ctx context.Context, query string, k int) ([]retrieval.Candidate, error)
}

// Summary reports what a run did.
type Summary struct {
	Processed int
	Orders    int
	Inquiries int
	Skipped   int
	Failed    int
}

// Runner drives the pipeline over the stored mailbox. Emails are
// processed strictly one at a time: mu serializes the whole
// check-decide-decrement-persist sequence so concurrent callers (the
// webhook handler spawns one goroutine per delivery) cannot interleave
// stock decisions on the shared catalog index.
type Runner struct {
	mu         sync.Mutex
	store      store.Store
	classifier Classifier
	reconciler OrderReconciler
	responder  Responder
	finder     Finder
	index      *catalog.Index
	inquiryK   int
}

func NewRunner(
	st store.Store,
	classifier Classifier,
	reconciler OrderReconciler,
	responder Responder,
	finder Finder,
	index *catalog.Index,
	cfg config.PipelineConfig,
) *Runner {
	inquiryK := cfg.InquiryCandidates
	if inquiryK <= 0 {
		inquiryK = 5
	}
	return &Runner{
		store:      st,
		classifier: classifier,
		reconciler: reconciler,
		responder:  responder,
		finder:     finder,
		index:      index,
		inquiryK:   inquiryK,
	}
}

// Sync pushes the current catalog snapshot into the vector index.
func (r *Runner) Sync(ctx context.Context) error {
	entries := r.index.Snapshot()
	if err := r.finder.SyncCatalog(ctx, entries); err != nil {
		return eris.Wrap(err, "pipeline: sync catalog")
	}
	zap.L().Info("catalog synced to vector index", zap.Int("products", len(entries)))
	return nil
}

// Run processes every stored email in order. A failure on one email is
// logged and counted, never fatal for the rest of the mailbox.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	emails, err := r.store.ListEmails(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list emails")
	}

	summary := &Summary{}
	for _, email := range emails {
		if ctx.Err() != nil {
			return summary, eris.Wrap(ctx.Err(), "pipeline: run cancelled")
		}

		outcome, err := r.ProcessEmail(ctx, email)
		if err != nil {
			summary.Failed++
			zap.L().Error("email processing failed",
				zap.String("email_id", email.ID),
				zap.Error(err))
			continue
		}

		switch outcome {
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeOrder:
			summary.Processed++
			summary.Orders++
		case OutcomeInquiry:
			summary.Processed++
			summary.Inquiries++
		}
	}

	zap.L().Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("orders", summary.Orders),
		zap.Int("inquiries", summary.Inquiries),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeOrder
	OutcomeInquiry
)

// ProcessEmail runs one email through classify, reconcile, and respond.
// A persisted response is the completion marker: if one exists the email
// is skipped wholesale, which is what keeps stock mutation idempotent.
func (r *Runner) ProcessEmail(ctx context.Context, email model.Email) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done, err := r.alreadyAnswered(ctx, email.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if done {
		zap.L().Debug("email already answered", zap.String("email_id", email.ID))
		return OutcomeSkipped, nil
	}

	category, err := r.classify(ctx, email)
	if err != nil {
		return OutcomeSkipped, err
	}

	if category == model.CategoryOrder {
		return OutcomeOrder, r.processOrder(ctx, email)
	}
	return OutcomeInquiry, r.processInquiry(ctx, email)
}

func (r *Runner) alreadyAnswered(ctx context.Context, emailID string) (bool, error) {
	if has, err := r.store.HasOrderResponse(ctx, emailID); err != nil || has {
		return has, err
	}
	return r.store.HasInquiryResponse(ctx, emailID)
}

// classify reuses a stored label when one exists so reruns do not burn
// model calls re-deciding settled emails.
func (r *Runner) classify(ctx context.Context, email model.Email) (model.Category, error) {
	if category, found, err := r.store.GetClassification(ctx, email.ID); err != nil {
		return "", err
	} else if found {
		return category, nil
	}

	category, err := r.classifier.Classify(ctx, email)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: classify %s", email.ID)
	}
	if err := r.store.SaveClassification(ctx, model.Classification{EmailID: email.ID, Category: category}); err != nil {
		return "", err
	}

	zap.L().Info("email classified",
		zap.String("email_id", email.ID),
		zap.String("category", string(category)))
	return category, nil
}

// processOrder finalizes an order email. Recorded order_status rows are
// the resume point: if a previous attempt crashed after appending lines
// and flushing stock but before the response committed, we compose from
// those rows instead of reconciling again, so stock is never decremented
// twice for the same email.
func (r *Runner) processOrder(ctx context.Context, email model.Email) error {
	lines, err := r.store.ListOrderLines(ctx, email.ID)
	if err != nil {
		return err
	}

	var alternatives []retrieval.Candidate
	if len(lines) > 0 {
		zap.L().Info("resuming from recorded order lines",
			zap.String("email_id", email.ID),
			zap.Int("lines", len(lines)))
	} else {
		lines, alternatives = r.reconciler.Reconcile(ctx, email)

		if err := r.store.AppendOrderLines(ctx, lines); err != nil {
			return err
		}
		if err := r.persistStock(ctx); err != nil {
			return err
		}
	}

	plan := respond.BuildOrderPlan(lines, alternatives)
	resp := r.responder.Compose(ctx, email, plan)
	if err := r.store.SaveOrderResponse(ctx, resp); err != nil {
		return err
	}

	zap.L().Info("order processed",
		zap.String("email_id", email.ID),
		zap.Int("lines", len(lines)),
		zap.Int("alternatives", len(alternatives)))
	return nil
}

func (r *Runner) processInquiry(ctx context.Context, email model.Email) error {
	candidates, err := r.finder.Find(ctx, email.Text(), r.inquiryK)
	if err != nil {
		zap.L().Warn("inquiry retrieval failed, answering without product context",
			zap.String("email_id", email.ID),
			zap.Error(err))
		candidates = nil
	}

	resp := r.responder.ComposeInquiry(ctx, email, candidates)
	if err := r.store.SaveInquiryResponse(ctx, resp); err != nil {
		return err
	}

	zap.L().Info("inquiry answered",
		zap.String("email_id", email.ID),
		zap.Int("candidates", len(candidates)))
	return nil
}

// persistStock writes catalog entries mutated since the last flush back
// to the store.
func (r *Runner) persistStock(ctx context.Context) error {
	for _, entry := range r.index.TakeMutated() {
		if err := r.store.UpdateStock(ctx, entry.ProductID, entry.Stock); err != nil {
			return err
		}
	}
	return nil
}
