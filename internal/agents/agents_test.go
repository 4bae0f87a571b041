package agents

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/llm"
	"github.com/nugget/majordomo/internal/router"
)

type fakeLLM struct {
	resp     llm.Message
	err      error
	model    string
	messages []llm.Message
	tools    []map[string]any
}

func (f *fakeLLM) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	f.model, f.messages, f.tools = model, messages, tools
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Model: model, Message: f.resp}, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func noop(ctx context.Context, args capability.Args) (string, error) { return "", nil }

func newCaps(t *testing.T, kinds ...capability.Kind) *capability.Registry {
	t.Helper()
	caps := capability.NewRegistry()
	for _, k := range kinds {
		if err := caps.Register(capability.New(k, noop)); err != nil {
			t.Fatal(err)
		}
	}
	caps.Freeze()
	return caps
}

func TestNewRegistry_Validation(t *testing.T) {
	caps := newCaps(t, capability.Kinds()...)

	tests := []struct {
		name     string
		bindings []Binding
	}{
		{"general bound", []Binding{{Category: router.General, Name: "Chat"}}},
		{"unknown category", []Binding{{Category: "SPORTS", Name: "Coach"}}},
		{"duplicate", []Binding{{Category: router.Weather, Name: "A"}, {Category: router.Weather, Name: "B"}}},
		{"unknown capability", []Binding{{Category: router.Weather, Name: "W", Capabilities: []capability.Kind{"rain_dance"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(slog.Default(), &fakeLLM{}, caps, "m", 0, tt.bindings); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewRegistry_DropsUnavailableCapabilities(t *testing.T) {
	caps := newCaps(t, capability.CompileNewsReports)
	r, err := NewRegistry(slog.Default(), &fakeLLM{}, caps, "m", 0, Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	b, ok := r.Binding(router.Personal)
	if !ok {
		t.Fatal("personal agent missing")
	}
	if len(b.Capabilities) != 1 || b.Capabilities[0] != capability.CompileNewsReports {
		t.Errorf("capabilities = %v", b.Capabilities)
	}
	if len(r.Bindings()) != 3 {
		t.Errorf("bindings = %d", len(r.Bindings()))
	}
}

func TestInvoke_ToolRequest(t *testing.T) {
	f := &fakeLLM{resp: llm.Message{
		Role:    llm.RoleAssistant,
		Content: "Switching it on.",
		ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{
			Name:      "control_lights",
			Arguments: map[string]any{"location": "LIVING_ROOM", "action": "ON"},
		}}},
	}}
	r, err := NewRegistry(slog.Default(), f, newCaps(t, capability.Kinds()...), "default-model", 0, Defaults())
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.Invoke(context.Background(), router.HomeAutomation, "turn on the living room light")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Kind() != ToolRequest || out.Agent != "HomeAutomation" {
		t.Errorf("output = %+v", out)
	}
	if out.Calls[0].Name != "control_lights" || out.Calls[0].Args["location"] != "LIVING_ROOM" {
		t.Errorf("call = %+v", out.Calls[0])
	}
	if out.Text != "Switching it on." {
		t.Errorf("text = %q", out.Text)
	}

	// Only the bound capability is offered.
	if len(f.tools) != 1 {
		t.Fatalf("offered %d tools, want 1", len(f.tools))
	}
	if name := f.tools[0]["function"].(map[string]any)["name"]; name != "control_lights" {
		t.Errorf("offered tool = %v", name)
	}
	if f.model != "default-model" {
		t.Errorf("model = %q", f.model)
	}
	if f.messages[0].Role != llm.RoleSystem || f.messages[1].Content != "turn on the living room light" {
		t.Errorf("messages = %+v", f.messages)
	}
}

func TestInvoke_TextAnswer(t *testing.T) {
	f := &fakeLLM{resp: llm.Message{Role: llm.RoleAssistant, Content: "  It looks sunny.  "}}
	r, _ := NewRegistry(slog.Default(), f, newCaps(t, capability.Kinds()...), "m", 0, Defaults())

	out, err := r.Invoke(context.Background(), router.Weather, "nice out?")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind() != TextAnswer || out.Text != "It looks sunny." {
		t.Errorf("output = %+v", out)
	}
}

func TestInvoke_Errors(t *testing.T) {
	f := &fakeLLM{err: errors.New("model offline")}
	r, _ := NewRegistry(slog.Default(), f, newCaps(t, capability.Kinds()...), "m", 0, Defaults())

	if _, err := r.Invoke(context.Background(), router.General, "hi"); !errors.Is(err, ErrNoAgent) {
		t.Errorf("GENERAL: err = %v, want ErrNoAgent", err)
	}
	if _, err := r.Invoke(context.Background(), router.Weather, "hi"); err == nil {
		t.Error("model error should propagate")
	}
}

func TestApplyOverrides(t *testing.T) {
	base := Defaults()
	got := ApplyOverrides(base, config.AgentsConfig{
		"WEATHER": {Instructions: "Meteorologist.", Model: "big-model"},
		"PERSONAL": {Model: "other"},
	})
	if got[0].Instructions != "Meteorologist." || got[0].Model != "big-model" {
		t.Errorf("weather = %+v", got[0])
	}
	if got[2].Instructions != base[2].Instructions || got[2].Model != "other" {
		t.Errorf("personal = %+v", got[2])
	}
	if base[0].Model != "" {
		t.Error("ApplyOverrides modified its input")
	}
}

func TestInvoke_PerAgentModel(t *testing.T) {
	f := &fakeLLM{resp: llm.Message{Content: "ok"}}
	bindings := ApplyOverrides(Defaults(), config.AgentsConfig{"WEATHER": {Model: "weather-model"}})
	r, _ := NewRegistry(slog.Default(), f, newCaps(t, capability.Kinds()...), "m", 0, bindings)
	r.Invoke(context.Background(), router.Weather, "rain?")
	if f.model != "weather-model" {
		t.Errorf("model = %q", f.model)
	}
}
