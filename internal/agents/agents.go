// Package agents binds each routable request category to an agent: a
// system prompt plus the subset of capabilities that agent may ask for.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/llm"
	"github.com/nugget/majordomo/internal/prompts"
	"github.com/nugget/majordomo/internal/router"
)

// ErrNoAgent is returned by Invoke for a category with no binding.
// GENERAL is never bound.
var ErrNoAgent = errors.New("no agent bound to category")

// Binding pairs a category with an agent's instructions and the
// capabilities it may request, in the order they are offered.
type Binding struct {
	Category     router.Category   `json:"category"`
	Name         string            `json:"name"`
	Instructions string            `json:"instructions"`
	Model        string            `json:"model,omitempty"` // empty = registry default
	Capabilities []capability.Kind `json:"capabilities"`
}

// Defaults returns the built-in bindings.
func Defaults() []Binding {
	return []Binding{
		{
			Category:     router.Weather,
			Name:         "WeatherExpert",
			Instructions: prompts.WeatherAgentInstructions,
			Capabilities: []capability.Kind{capability.GetWeatherForecast},
		},
		{
			Category:     router.HomeAutomation,
			Name:         "HomeAutomation",
			Instructions: prompts.HomeAutomationAgentInstructions,
			Capabilities: []capability.Kind{capability.ControlLights},
		},
		{
			Category:     router.Personal,
			Name:         "NewsAnalyst",
			Instructions: prompts.PersonalAgentInstructions,
			Capabilities: []capability.Kind{
				capability.GetDailyCalendar,
				capability.SummarizeRecentEmails,
				capability.CompileNewsReports,
			},
		},
	}
}

// ApplyOverrides returns bindings with instructions and models replaced
// from configuration. Keys of overrides are category names.
func ApplyOverrides(bindings []Binding, overrides config.AgentsConfig) []Binding {
	out := make([]Binding, len(bindings))
	copy(out, bindings)
	for i, b := range out {
		o, ok := overrides[string(b.Category)]
		if !ok {
			continue
		}
		if o.Instructions != "" {
			out[i].Instructions = o.Instructions
		}
		if o.Model != "" {
			out[i].Model = o.Model
		}
	}
	return out
}

// Kind distinguishes the two shapes of agent output.
type Kind int

const (
	// TextAnswer means the agent answered directly.
	TextAnswer Kind = iota
	// ToolRequest means the agent asked for one or more capability calls.
	ToolRequest
)

// Output is what an agent produced for one instruction. Text may
// accompany a ToolRequest; dispatch uses it as a fallback answer.
type Output struct {
	Agent string
	Text  string
	Calls []capability.Call
}

// Kind reports whether o is a TextAnswer or a ToolRequest.
func (o Output) Kind() Kind {
	if len(o.Calls) > 0 {
		return ToolRequest
	}
	return TextAnswer
}

// Registry holds the agent bindings. It is read-only after creation.
type Registry struct {
	logger       *slog.Logger
	llm          llm.Client
	caps         *capability.Registry
	defaultModel string
	timeout      time.Duration
	bindings     map[router.Category]Binding
	order        []router.Category
}

// NewRegistry validates bindings and builds a registry. A binding may
// not target GENERAL, and may only name catalog capabilities.
// Capabilities that have no registered implementation are dropped with
// a warning so the model is never offered a tool that cannot run.
func NewRegistry(logger *slog.Logger, client llm.Client, caps *capability.Registry, defaultModel string, timeout time.Duration, bindings []Binding) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:       logger,
		llm:          client,
		caps:         caps,
		defaultModel: defaultModel,
		timeout:      timeout,
		bindings:     make(map[router.Category]Binding),
	}

	for _, b := range bindings {
		if b.Category == router.General {
			return nil, fmt.Errorf("agent %q: GENERAL cannot be bound to an agent", b.Name)
		}
		if _, ok := router.ParseCategory(string(b.Category)); !ok {
			return nil, fmt.Errorf("agent %q: unknown category %q", b.Name, b.Category)
		}
		if _, dup := r.bindings[b.Category]; dup {
			return nil, fmt.Errorf("agent %q: category %s already bound", b.Name, b.Category)
		}

		var kept []capability.Kind
		for _, k := range b.Capabilities {
			if !k.Known() {
				return nil, fmt.Errorf("agent %q: unknown capability %q", b.Name, k)
			}
			if _, ok := caps.Get(k); !ok {
				logger.Warn("capability not available, removed from agent",
					"agent", b.Name, "capability", k)
				continue
			}
			kept = append(kept, k)
		}
		b.Capabilities = kept
		r.bindings[b.Category] = b
		r.order = append(r.order, b.Category)
	}
	return r, nil
}

// Binding returns the agent bound to cat.
func (r *Registry) Binding(cat router.Category) (Binding, bool) {
	b, ok := r.bindings[cat]
	return b, ok
}

// Bindings returns every binding in registration order.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, r.bindings[c])
	}
	return out
}

// Invoke runs the agent bound to cat on instruction: one model call
// offering only the agent's capabilities as tools.
func (r *Registry) Invoke(ctx context.Context, cat router.Category, instruction string) (Output, error) {
	b, ok := r.bindings[cat]
	if !ok {
		return Output{}, fmt.Errorf("%s: %w", cat, ErrNoAgent)
	}

	model := b.Model
	if model == "" {
		model = r.defaultModel
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.llm.Chat(ctx, model, []llm.Message{
		llm.System(prompts.AgentSystemPrompt(b.Instructions)),
		llm.User(instruction),
	}, r.caps.Tools(b.Capabilities))
	if err != nil {
		return Output{Agent: b.Name}, fmt.Errorf("agent %s: %w", b.Name, err)
	}

	out := Output{Agent: b.Name, Text: strings.TrimSpace(resp.Message.Content)}
	for _, tc := range resp.Message.ToolCalls {
		out.Calls = append(out.Calls, capability.Call{
			Name: tc.Function.Name,
			Args: capability.Args(tc.Function.Arguments),
		})
	}

	r.logger.Debug("agent invoked",
		"agent", b.Name,
		"model", model,
		"calls", len(out.Calls),
		"text_len", len(out.Text),
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
	)
	return out, nil
}
