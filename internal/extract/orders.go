package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/pkg/anthropic"
)

const resolveSystemPrompt = `You are an order processing assistant. Generate a list of orders based only on the user's email, on the orders hypothesis, and on the products list provided.`

const resolvePrompt = `<INSTRUCTIONS>
Given the following user email, generate a list of orders that corresponds to each product the user wants to order through the email.
To help in identifying the orders there is a hypothetical list of orders that have already been identified from the email and that should be considered in the identification of the orders.
If the hypothetical list of orders is empty, just use the email subject and message to identify the products, using solely the products present in the product list provided.
The identification of the products should be based solely on the products present in the product list provided.
For each order, return two fields: product_id, the id corresponding to the product that the user wants to order, taken from the products list provided; quantity: the user desired quantity for the product in numerical format.
If the hypothetical orders are provided, always use the quantity identified within the hypothetical list of orders provided.
If no hypothetical orders are provided, identify the quantity based on the email subject and message.
If the user has provided a quantity range, return the range as written, for example "5-10".
There must be only one order for each product, with the total quantity required for that specific product.
If it is not possible to identify the quantity as a number or a numeric range, return 1 as the default quantity.
If it is not possible to identify a product, skip it.
If you are unable to identify the product id for a specific product, skip the product from the order list.
If the description provided in the email by the user does not clearly match any product in the products list provided, skip that product from the order list.
If no products are identified, return an empty list.
Return the result as JSON with the key "data" and the list of orders as its value.
Only output valid JSON and no other characters.
Do not output markdown backticks. Just output raw JSON only.
</INSTRUCTIONS>

<EMAIL>
<SUBJECT>%s</SUBJECT>
<MESSAGE>%s</MESSAGE>
</EMAIL>

<ORDERS HYPOTHESIS>
%s
</ORDERS HYPOTHESIS>

<PRODUCTS LIST>
%s
</PRODUCTS LIST>`

// rawResolvedOrder tolerates product_id arriving as a string or a JSON
// number, and quantity as a number, numeric string, or range text.
type rawResolvedOrder struct {
	ProductID any `json:"product_id"`
	Quantity  any `json:"quantity"`
}

// ResolveOrderLines matches suborder hints against the retrieved
// candidate pool and returns unmerged (product, quantity-hint) pairs.
// The pool is passed preformatted as the products context. Malformed
// responses degrade to nil.
func (a *Adapter) ResolveOrderLines(ctx context.Context, email model.Email, hints []model.SuborderHint, productsContext string) ([]model.RawOrderLine, error) {
	hintsJSON, err := json.Marshal(hints)
	if err != nil {
		return nil, eris.Wrap(err, "extract: marshal suborder hints")
	}

	resp, err := a.createMessage(ctx, "resolve-orders", anthropic.MessageRequest{
		Model:     a.cfg.HaikuModel,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(resolveSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(resolvePrompt, email.Subject, email.Body, string(hintsJSON), productsContext)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: resolve order lines for email %s", email.ID)
	}
	resp.Usage.LogCost(a.cfg.HaikuModel, "resolve-orders")

	var payload struct {
		Data []rawResolvedOrder `json:"data"`
	}
	text := cleanJSON(extractText(resp))
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		zap.L().Warn("extract: malformed order resolution response",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	lines := make([]model.RawOrderLine, 0, len(payload.Data))
	for _, raw := range payload.Data {
		id := productID(raw.ProductID)
		if id == "" {
			continue
		}
		lines = append(lines, model.RawOrderLine{
			ProductID: id,
			Quantity:  model.ParseQuantityHint(raw.Quantity),
		})
	}
	return lines, nil
}

func productID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.Itoa(int(t))
	default:
		return ""
	}
}
