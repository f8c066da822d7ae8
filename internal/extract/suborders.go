package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/pkg/anthropic"
)

const suborderSystemPrompt = `You are an order processing assistant. Generate suborders based only on the user's email.`

const suborderPrompt = `<INSTRUCTIONS>
Given the following user email, generate a list of independent orders that corresponds to each product the user wants to order through the email.
For each order, return two fields: product_data, a text containing all the information provided by the customer in regard to the specific product required (product name, product id, product description, etc.); quantity: the desired quantity in numerical format.
Make sure the customer wants to buy the product, based on the information provided in the email.
Return the result as JSON with the key "data" and the list of orders as its value.
If no products are identified, return a JSON with the key "data" and the list of orders as an empty list.
Only output valid JSON and no other characters.
Do not output markdown backticks. Just output raw JSON only.
</INSTRUCTIONS>

<QUERY>%s</QUERY>`

// rawSuborder tolerates the shapes the service actually emits:
// product_data as text or as a nested object, quantity as a number,
// numeric string, or textual range.
type rawSuborder struct {
	ProductData any `json:"product_data"`
	Quantity    any `json:"quantity"`
}

// ExtractSuborders pulls per-product purchase mentions out of an email.
// A malformed response yields nil, logged at warn; the caller falls
// back to querying with the raw email text.
func (a *Adapter) ExtractSuborders(ctx context.Context, email model.Email) ([]model.SuborderHint, error) {
	resp, err := a.createMessage(ctx, "suborders", anthropic.MessageRequest{
		Model:     a.cfg.HaikuModel,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(suborderSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(suborderPrompt, email.Text())},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: suborders for email %s", email.ID)
	}
	resp.Usage.LogCost(a.cfg.HaikuModel, "suborders")

	var payload struct {
		Data []rawSuborder `json:"data"`
	}
	text := cleanJSON(extractText(resp))
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		zap.L().Warn("extract: malformed suborder response",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	hints := make([]model.SuborderHint, 0, len(payload.Data))
	for _, raw := range payload.Data {
		desc := stringify(raw.ProductData)
		if desc == "" {
			continue
		}
		hints = append(hints, model.SuborderHint{
			Description: desc,
			Quantity:    model.ParseQuantityHint(raw.Quantity),
		})
	}
	return hints, nil
}

// stringify renders a product_data field as query text whether the
// service returned a string or a structured object.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
