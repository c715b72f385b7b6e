package classification

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

// LLMAssist breaks classification ties the deterministic scorer could not.
// Implementations must be side-effect free: the answer only ever upgrades an
// unknown section and is always recorded in the rationale.
type LLMAssist interface {
	ClassifyStatement(ctx context.Context, tableText string) (evidence.StatementType, string, error)
}

const assistSystemPrompt = "You classify financial statement tables. " +
	"Reply with exactly one word: income_statement, balance_sheet, cash_flow, or unknown."

const maxAssistChars = 4000

// AnthropicAssist implements LLMAssist with the Anthropic Messages API.
type AnthropicAssist struct {
	client anthropic.Client
	model  string
}

// NewAnthropicAssist builds an assist client for the given API key and model.
func NewAnthropicAssist(apiKey, model string) *AnthropicAssist {
	return &AnthropicAssist{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ClassifyStatement asks the model for a one-word statement type.
func (a *AnthropicAssist) ClassifyStatement(ctx context.Context, tableText string) (evidence.StatementType, string, error) {
	if len(tableText) > maxAssistChars {
		tableText = tableText[:maxAssistChars]
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 16,
		System:    []anthropic.TextBlockParam{{Text: assistSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Table text:\n" + tableText)),
		},
	})
	if err != nil {
		return evidence.StatementUnknown, "", fmt.Errorf("anthropic classify: %w", err)
	}

	var reply string
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply = strings.TrimSpace(block.Text)
			break
		}
	}

	t, ok := evidence.ParseStatementType(reply)
	if !ok {
		return evidence.StatementUnknown, fmt.Sprintf("model replied %q", reply), nil
	}
	return t, fmt.Sprintf("model %s classified table as %s", a.model, t), nil
}
