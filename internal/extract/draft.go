package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/pkg/anthropic"
)

const draftOrderSystemPrompt = `You are a professional seller assistant, generating professional answers to customers orders via email. You generate a response to the user based on the order data provided.`

const draftOrderPrompt = `<INSTRUCTIONS>
Write a short opening for an order confirmation email, addressing the customer's email directly.
The opening is one or two sentences: a greeting line starting with "Dear", then a sentence acknowledging the request described in the email.
Do not list products, quantities, prices, totals, alternatives, or order tables; those are appended separately.
Do not apologize and do not mention stock availability.
Do not include a signature or closing.
The tone should be professional and friendly.
Only output the plain text of the opening and no other characters.
</INSTRUCTIONS>

<EMAIL>
<SUBJECT>%s</SUBJECT>
<MESSAGE>%s</MESSAGE>
</EMAIL>

<ORDER SUMMARY>
%s
</ORDER SUMMARY>`

const draftInquirySystemPrompt = `You are a professional seller assistant, generating professional answers to customers inquiries via email. You generate a response to the user based solely on the product data provided.`

const draftInquiryPrompt = `<INSTRUCTIONS>
Write the body of a professional response to the customer's inquiry, based solely on the relevant products data provided.
If the inquiry is about a specific product, provide detailed information about that product.
If the inquiry is about a general topic, provide relevant information based on the products information available.
If the information required is not available, inform the user that we need more information to provide a precise answer or suggest to visit our online store for more details.
The response should be concise and informative, addressing the user's email directly.
Start with a greeting line. Do not include a signature or closing; it is appended separately.
The tone should be professional and friendly.
All prices are intended in US dollars and are shown using the specific symbol ($).
Only output the plain text of the body and no other characters.
</INSTRUCTIONS>

<EMAIL>
<SUBJECT>%s</SUBJECT>
<MESSAGE>%s</MESSAGE>
</EMAIL>

<RELEVANT PRODUCTS>
%s
</RELEVANT PRODUCTS>`

// DraftOrderReply asks the LLM for the free-prose opening of an order
// reply. The order details themselves are rendered deterministically by
// the composer, which falls back to canned text when this call fails or
// returns nothing.
func (a *Adapter) DraftOrderReply(ctx context.Context, email model.Email, orderSummary string) (string, error) {
	resp, err := a.createMessage(ctx, "draft-order", anthropic.MessageRequest{
		Model:     a.cfg.SonnetModel,
		MaxTokens: int64(a.draftTokens()),
		System:    anthropic.BuildCachedSystemBlocks(draftOrderSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(draftOrderPrompt, email.Subject, email.Body, orderSummary)},
		},
	})
	if err != nil {
		return "", eris.Wrapf(err, "extract: draft order reply for email %s", email.ID)
	}
	resp.Usage.LogCost(a.cfg.SonnetModel, "draft-order")
	return strings.TrimSpace(extractText(resp)), nil
}

// DraftInquiryReply asks the LLM for the body of an inquiry reply,
// grounded on the retrieved product context.
func (a *Adapter) DraftInquiryReply(ctx context.Context, email model.Email, productsContext string) (string, error) {
	resp, err := a.createMessage(ctx, "draft-inquiry", anthropic.MessageRequest{
		Model:     a.cfg.SonnetModel,
		MaxTokens: int64(a.draftTokens()),
		System:    anthropic.BuildCachedSystemBlocks(draftInquirySystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(draftInquiryPrompt, email.Subject, email.Body, productsContext)},
		},
	})
	if err != nil {
		return "", eris.Wrapf(err, "extract: draft inquiry reply for email %s", email.ID)
	}
	resp.Usage.LogCost(a.cfg.SonnetModel, "draft-inquiry")
	return strings.TrimSpace(extractText(resp)), nil
}

func (a *Adapter) draftTokens() int {
	if a.cfg.MaxDraftTokens > 0 {
		return a.cfg.MaxDraftTokens
	}
	return 1024
}
