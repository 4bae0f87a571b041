package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/nugget/majordomo/internal/httpkit"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint:
// OpenAI itself, LM Studio, vLLM, or a llama.cpp server.
type OpenAIClient struct {
	client      *openai.Client
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIClient creates a client for the endpoint at baseURL. An
// empty baseURL uses the public OpenAI API.
func NewOpenAIClient(baseURL, apiKey string, temperature float64, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithRetry(2, 2*time.Second),
		httpkit.WithLogger(logger),
	)
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		temperature: float32(temperature),
		logger:      logger,
	}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: &c.temperature,
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = "auto"
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from model %s", model)
	}

	choice := resp.Choices[0].Message
	msg := Message{Role: RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := unmarshalJSON([]byte(tc.Function.Arguments), &args); err != nil {
				c.logger.Warn("discarding unparseable tool arguments",
					"tool", tc.Function.Name, "error", err)
				args = map[string]any{}
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	promoteTextToolCalls(&msg, tools)

	return &ChatResponse{
		Model:         resp.Model,
		Message:       msg,
		InputTokens:   resp.Usage.PromptTokens,
		OutputTokens:  resp.Usage.CompletionTokens,
		TotalDuration: time.Since(start),
	}, nil
}

// Ping lists models, which every compatible server implements.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Function.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []map[string]any) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		name, desc, params := toolFunction(t)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: desc,
				Parameters:  params,
			},
		})
	}
	return out
}
