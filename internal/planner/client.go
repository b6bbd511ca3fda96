// Package planner owns the planning LLM interface, the plan/task block
// parser, and the derivation of Task records from a parsed plan.
package planner

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
)

// Client is the planning LLM. Implementations complete a single prompt and
// return the raw text; everything downstream is parsing.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicOptions configures the Anthropic-backed client
type AnthropicOptions struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// AnthropicClient implements Client on the Anthropic Messages API
type AnthropicClient struct {
	messages  *sdk.MessageService
	model     string
	maxTokens int
}

// NewAnthropicClient builds a planner client from an API key
func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, cerrors.New(cerrors.ErrCodePlannerRateLimit, "planner api key is required").
			WithSuggestion("set ANTHROPIC_API_KEY or configure planner_api_key")
	}
	if opts.Model == "" {
		opts.Model = string(sdk.ModelClaudeSonnet4_5_20250929)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 16384
	}
	ac := sdk.NewClient(option.WithAPIKey(opts.APIKey))
	return &AnthropicClient{
		messages:  &ac.Messages,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}, nil
}

// Complete issues one non-streaming Messages request and concatenates the
// text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", cerrors.Wrap(cerrors.ErrCodePlanParse, "planner completion failed", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
