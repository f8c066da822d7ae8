// Package respond turns reconciled order lines and retrieved inquiry
// context into customer-facing reply text. The structural decisions
// (table, total, alternatives, apology, signature) are code; the LLM
// only contributes free prose, and a failed draft degrades to canned
// text rather than an error.
package respond

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fernwood/orderdesk/internal/catalog"
	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/internal/retrieval"
)

// Signature is the fixed closing of every outgoing reply.
const Signature = "Customer Service Team"

// Drafter produces the free-prose parts of a reply. Satisfied by
// *extract.Adapter.
type Drafter interface {
	DraftOrderReply(ctx context.Context, email model.Email, orderSummary string) (string, error)
	DraftInquiryReply(ctx context.Context, email model.Email, productsContext string) (string, error)
}

// Plan is the structural decision set for one order reply, derived
// purely from the reconciled lines and alternatives.
type Plan struct {
	Lines        []model.OrderLine
	Alternatives []retrieval.Candidate

	IncludeTable        bool
	IncludeTotal        bool
	IncludeAlternatives bool
	Apologize           bool
	AllOutOfStock       bool
	Total               float64
}

// BuildOrderPlan applies the reply-formatting rules to reconciled
// lines. Pure: no I/O, no LLM.
func BuildOrderPlan(lines []model.OrderLine, alternatives []retrieval.Candidate) Plan {
	plan := Plan{Lines: lines, Alternatives: alternatives}
	if len(lines) == 0 {
		// Nothing resolved: any candidates here came from the raw-text
		// fallback retrieval and are offered as suggestions.
		plan.IncludeAlternatives = len(alternatives) > 0
		return plan
	}

	plan.IncludeTable = true
	outOfStock := 0
	for _, line := range lines {
		switch line.Status {
		case model.StatusCreated:
			plan.Total += line.UnitPrice * float64(line.Quantity)
			plan.IncludeTotal = true
		case model.StatusOutOfStock:
			outOfStock++
		}
	}
	plan.AllOutOfStock = outOfStock == len(lines)
	plan.Apologize = outOfStock > 0
	plan.IncludeAlternatives = outOfStock > 0 && len(alternatives) > 0
	return plan
}

// Composer renders replies. The catalog index supplies product names
// for table rows and alternative listings.
type Composer struct {
	drafter Drafter
	index   *catalog.Index
	printer *message.Printer
}

// NewComposer builds a Composer over the given drafter and catalog.
func NewComposer(drafter Drafter, index *catalog.Index) *Composer {
	return &Composer{
		drafter: drafter,
		index:   index,
		printer: message.NewPrinter(language.AmericanEnglish),
	}
}

// Compose renders the order reply for a finalized plan.
func (c *Composer) Compose(ctx context.Context, email model.Email, plan Plan) model.Response {
	var b strings.Builder

	b.WriteString(c.orderOpening(ctx, email, plan))
	b.WriteString("\n")

	if len(plan.Lines) == 0 {
		b.WriteString("\nUnfortunately we were not able to identify the products you are looking for from your message. Could you share a few more details, such as the product name or ID, so we can locate exactly what you need? In the meantime, feel free to browse our online store.\n")
		if plan.IncludeAlternatives {
			b.WriteString("\nBased on your message, these products from our catalog may be what you are looking for:\n")
			b.WriteString(c.renderCandidateList(plan.Alternatives))
		}
	} else {
		if plan.IncludeTable {
			b.WriteString("\n")
			b.WriteString(c.renderTable(plan.Lines))
		}
		if shortfall := c.renderShortfalls(plan.Lines); shortfall != "" {
			b.WriteString("\n")
			b.WriteString(shortfall)
		}
		if plan.IncludeTotal {
			b.WriteString("\n")
			b.WriteString(c.printer.Sprintf("Total: $%.2f\n", plan.Total))
		}
		if plan.AllOutOfStock {
			b.WriteString("\nUnfortunately none of the requested products are currently in stock, so we cannot process your order at this time.\n")
		}
		if plan.Apologize {
			b.WriteString("\nWe apologize for the inconvenience caused by the items that are out of stock.\n")
		}
		if plan.IncludeAlternatives {
			b.WriteString("\n")
			b.WriteString(c.renderAlternatives(plan.Alternatives))
		} else if plan.Apologize {
			b.WriteString("\nWe encourage you to check back soon, as these items are expected to be restocked.\n")
		}
	}

	b.WriteString("\nBest regards,\n")
	b.WriteString(Signature)
	b.WriteString("\n")

	return model.Response{EmailID: email.ID, Body: b.String()}
}

// ComposeInquiry renders the inquiry reply from retrieved product
// context.
func (c *Composer) ComposeInquiry(ctx context.Context, email model.Email, candidates []retrieval.Candidate) model.Response {
	body, err := c.drafter.DraftInquiryReply(ctx, email, retrieval.FormatContext(candidates))
	if err != nil {
		zap.L().Warn("respond: inquiry draft failed, using fallback",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		body = ""
	}
	if body == "" {
		body = "Dear Customer,\n\nThank you for your inquiry. We need a little more information to give you a precise answer; please visit our online store for full product details, or reply with the product name you are interested in."
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\nBest regards,\n")
	b.WriteString(Signature)
	b.WriteString("\n")
	return model.Response{EmailID: email.ID, Body: b.String()}
}

// orderOpening returns the drafted greeting paragraph, or canned text
// when drafting fails or returns nothing.
func (c *Composer) orderOpening(ctx context.Context, email model.Email, plan Plan) string {
	opening, err := c.drafter.DraftOrderReply(ctx, email, c.planSummary(plan))
	if err != nil {
		zap.L().Warn("respond: order draft failed, using fallback",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		opening = ""
	}
	if opening == "" {
		opening = "Dear Customer,\n\nThank you for your order request."
	}
	return opening
}

// planSummary gives the drafter a compact view of the decisions so the
// opening can acknowledge them without restating details.
func (c *Composer) planSummary(plan Plan) string {
	if len(plan.Lines) == 0 {
		summary := "no products could be identified from the email"
		if len(plan.Alternatives) > 0 {
			var names []string
			for _, alt := range plan.Alternatives {
				entry := alt.Entry
				if live, ok := c.index.Get(alt.ProductID); ok {
					entry = live
				}
				names = append(names, entry.Name)
			}
			summary += "; possibly relevant products: " + strings.Join(names, ", ")
		}
		return summary
	}
	var b strings.Builder
	for _, line := range plan.Lines {
		fmt.Fprintf(&b, "%d x %s (%s)\n", line.Quantity, line.ProductID, line.Status)
	}
	return strings.TrimSpace(b.String())
}

func (c *Composer) renderTable(lines []model.OrderLine) string {
	var b strings.Builder
	b.WriteString("Product ID | Product Name | Quantity | Status\n")
	for _, line := range lines {
		name := line.ProductID
		if entry, ok := c.index.Get(line.ProductID); ok {
			name = entry.Name
		}
		fmt.Fprintf(&b, "%s | %s | %d | %s\n", line.ProductID, name, line.Quantity, line.Status)
	}
	return b.String()
}

// renderShortfalls notes, per out-of-stock line, how much of the
// requested quantity was actually available.
func (c *Composer) renderShortfalls(lines []model.OrderLine) string {
	var b strings.Builder
	for _, line := range lines {
		if line.Status != model.StatusOutOfStock {
			continue
		}
		fmt.Fprintf(&b, "You requested %d of %s but only %d are currently in stock, so this item was not included in the order.\n",
			line.Quantity, line.ProductID, line.StockAtDecision)
	}
	return b.String()
}

func (c *Composer) renderAlternatives(alternatives []retrieval.Candidate) string {
	return "You may be interested in these available alternatives:\n" +
		c.renderCandidateList(alternatives)
}

func (c *Composer) renderCandidateList(candidates []retrieval.Candidate) string {
	var b strings.Builder
	for _, candidate := range candidates {
		entry := candidate.Entry
		if live, ok := c.index.Get(candidate.ProductID); ok {
			entry = live
		}
		b.WriteString(c.printer.Sprintf("- %s (%s): $%.2f, %d in stock\n",
			entry.Name, entry.ProductID, entry.UnitPrice, entry.Stock))
	}
	return b.String()
}
