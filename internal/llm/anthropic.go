package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, temperature float64, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(apiKey),
		temperature: float32(temperature),
		maxTokens:   4096,
		logger:      logger,
	}
}

// Chat sends a request to the Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	system, msgs := toAnthropicMessages(messages)

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    msgs,
		MaxTokens:   c.maxTokens,
		Temperature: &c.temperature,
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	for _, t := range tools {
		name, desc, params := toolFunction(t)
		req.Tools = append(req.Tools, anthropic.ToolDefinition{
			Name:        name,
			Description: desc,
			InputSchema: params,
		})
	}

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	msg := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				msg.Content += *block.Text
			}
		case "tool_use":
			if block.MessageContentToolUse == nil || block.Name == "" {
				continue
			}
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := unmarshalJSON(block.Input, &args); err != nil {
					c.logger.Warn("discarding unparseable tool input",
						"tool", block.Name, "error", err)
					args = map[string]any{}
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:       block.ID,
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}

	return &ChatResponse{
		Model:         string(resp.Model),
		Message:       msg,
		InputTokens:   resp.Usage.InputTokens,
		OutputTokens:  resp.Usage.OutputTokens,
		TotalDuration: time.Since(start),
	}, nil
}

// Ping is a no-op: the Messages API has no free health endpoint and
// a test completion costs tokens.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	return nil
}

func toAnthropicMessages(messages []Message) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var system []anthropic.MessageSystemPart
	var out []anthropic.Message
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
		case RoleUser:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		case RoleAssistant:
			var content []anthropic.MessageContent
			if m.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Content))
			}
			for _, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Function.Arguments)
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Function.Name, json.RawMessage(argsJSON)))
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		case RoleTool:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewToolResultMessageContent(m.ToolCallID, m.Content, false)},
			})
		}
	}
	return system, out
}
