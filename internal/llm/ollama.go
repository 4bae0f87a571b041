package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/majordomo/internal/httpkit"
)

// OllamaClient is a client for the native Ollama chat API.
type OllamaClient struct {
	baseURL     string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, temperature float64, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL:     baseURL,
		temperature: temperature,
		// Large models with tools need time; callers bound requests
		// with context deadlines instead.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// levelTrace matches config.LevelTrace without importing config.
const levelTrace = slog.Level(-8)

// Chat sends a non-streaming /api/chat request. Tool calls the model
// wrote as text are promoted to structured calls.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	body := ollamaRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Options:  &ollamaOptions{Temperature: c.temperature},
	}
	req, err := httpkit.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/chat", body)
	if err != nil {
		return nil, err
	}
	c.logger.Log(ctx, levelTrace, "ollama request", "model", model, "messages", len(messages), "tools", len(tools))

	start := time.Now()
	var out ollamaResponse
	if err := httpkit.DoJSON(c.httpClient, req, &out); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	msg := out.Message
	promoteTextToolCalls(&msg, tools)

	total := time.Duration(out.TotalDuration)
	if total == 0 {
		total = time.Since(start)
	}
	return &ChatResponse{
		Model:         out.Model,
		Message:       msg,
		InputTokens:   out.PromptEvalCount,
		OutputTokens:  out.EvalCount,
		TotalDuration: total,
	}, nil
}

// Ping lists local models, which succeeds once the server is up.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := httpkit.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	if err := httpkit.DoJSON(c.httpClient, req, nil); err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	return nil
}
