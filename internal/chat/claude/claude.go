// Package claude adapts Anthropic's messages API to the chat gateway's model interface.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/juchunko/site-worker/internal/chat"
)

const DefaultMaxTokens = 2048

// ErrRateLimited is returned when the API pushes back.
var ErrRateLimited = errors.New("model rate limited")

type Config struct {
	APIKey    string
	BaseURL   string // Optional, e.g. an AI gateway in front of the API
	Model     string
	MaxTokens int64
}

// Model streams steps from Claude.
type Model struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func New(cfg Config, opts ...option.RequestOption) *Model {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaudeHaiku4_5
	}

	return &Model{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

// Step implements [chat.Model].
func (m *Model) Step(ctx context.Context, req chat.StepRequest, onText func(string) error) (chat.StepResult, error) {
	tools, err := toolParams(req.Tools)
	if err != nil {
		return chat.StepResult{}, err
	}

	stream := m.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: m.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: req.System,
		}},
		Messages: messageParams(req.Messages),
		Tools:    tools,
	})
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return chat.StepResult{}, fmt.Errorf("error accumulating claude stream: %w", err)
		}

		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
			if err := onText(text.Text); err != nil {
				return chat.StepResult{}, err
			}
		}
	}
	// Handle Anthropic rate limit errors
	var claudeErr *anthropic.Error
	if err := stream.Err(); errors.As(err, &claudeErr) && claudeErr.StatusCode == http.StatusTooManyRequests {
		return chat.StepResult{}, fmt.Errorf("%w: %s", ErrRateLimited, err)
	} else if err != nil {
		return chat.StepResult{}, fmt.Errorf("claude error: %w", err)
	}

	var (
		res  chat.StepResult
		text strings.Builder
	)
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			res.ToolCalls = append(res.ToolCalls, chat.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}
	res.Text = text.String()

	return res, nil
}

func messageParams(msgs []chat.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range m.Parts {
			switch {
			case p.ToolCall != nil:
				input := p.ToolCall.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolCall.ID, input, p.ToolCall.Name))
			case p.ToolResult != nil:
				blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolResult.CallID, p.ToolResult.Content, p.ToolResult.IsError))
			case p.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if m.Role == chat.RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		} else {
			params = append(params, anthropic.NewUserMessage(blocks...))
		}
	}
	return params
}

func toolParams(specs []chat.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		// The schema's properties are passed through as JSON
		props := map[string]json.RawMessage{}
		for name, ref := range spec.Schema.Properties {
			byts, err := json.Marshal(ref)
			if err != nil {
				return nil, fmt.Errorf("error encoding schema of %s.%s: %w", spec.Name, name, err)
			}
			props[name] = byts
		}

		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        string(spec.Name),
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   spec.Schema.Required,
				},
			},
		})
	}
	return tools, nil
}
