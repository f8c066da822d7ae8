package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/pkg/anthropic"
)

const classifySystemPrompt = `You are an email classification assistant. Classify the email into one of the following categories: 'order', 'inquiry'. Respond with the category only.`

const classifyUserPrompt = `Identify the category of the following email:
Subject: %s
Message: %s`

// Classify assigns an email to one of the fixed categories. An
// unrecognizable label falls back to inquiry, which never touches
// stock, and is logged at warn.
func (a *Adapter) Classify(ctx context.Context, email model.Email) (model.Category, error) {
	resp, err := a.createMessage(ctx, "classify", anthropic.MessageRequest{
		Model:     a.cfg.HaikuModel,
		MaxTokens: 16,
		System:    anthropic.BuildCachedSystemBlocks(classifySystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(classifyUserPrompt, email.Subject, email.Body)},
		},
	})
	if err != nil {
		return "", eris.Wrapf(err, "extract: classify email %s", email.ID)
	}
	resp.Usage.LogCost(a.cfg.HaikuModel, "classify")

	label := strings.ToLower(strings.Trim(extractText(resp), " \t\n'\".“”"))
	switch {
	case strings.Contains(label, string(model.CategoryOrder)):
		return model.CategoryOrder, nil
	case strings.Contains(label, string(model.CategoryInquiry)):
		return model.CategoryInquiry, nil
	default:
		zap.L().Warn("extract: unrecognized category label, defaulting to inquiry",
			zap.String("email_id", email.ID),
			zap.String("label", label),
		)
		return model.CategoryInquiry, nil
	}
}
