package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nugget/majordomo/internal/llm"
)

type fakeLLM struct {
	answer string
	err    error
	got    []llm.Message
	tools  []map[string]any
}

func (f *fakeLLM) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	f.got = messages
	f.tools = tools
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Model: model, Message: llm.Message{Role: llm.RoleAssistant, Content: f.answer}}, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func newTestRouter(f *fakeLLM) *Router {
	return NewRouter(slog.Default(), f, Config{Model: "test-model", MaxAuditLog: 3})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   Category
		wantOK bool
	}{
		{"exact weather", "WEATHER_AGENT", Weather, true},
		{"lower case", "domo_agent", HomeAutomation, true},
		{"padded", "  \nPERSONAL_AGENT.\n", Personal, true},
		{"in a sentence", "I think this is for the WEATHER_AGENT, clearly.", Weather, true},
		{"quoted", "'DOMO_AGENT'", HomeAutomation, true},
		{"first label in fixed order wins", "PERSONAL_AGENT or WEATHER_AGENT", Weather, true},
		{"general", "GENERAL", General, false},
		{"empty", "", General, false},
		{"garbage", "¯\\_(ツ)_/¯", General, false},
		{"near miss", "WEATHER AGENT", General, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Classify(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRoute(t *testing.T) {
	f := &fakeLLM{answer: "DOMO_AGENT"}
	r := newTestRouter(f)

	cat, d := r.Route(context.Background(), "r_1", "turn on the living room light")
	if cat != HomeAutomation {
		t.Errorf("category = %v", cat)
	}
	if d.Degraded {
		t.Error("clean answer should not be degraded")
	}
	if len(f.got) != 2 || f.got[0].Content != SystemPrompt || f.got[1].Content != "turn on the living room light" {
		t.Errorf("messages = %+v", f.got)
	}
	if f.tools != nil {
		t.Error("classifier must not offer tools")
	}
	if r.Explain("r_1") == nil {
		t.Error("decision not recorded")
	}
}

func TestRoute_DegradesToGeneral(t *testing.T) {
	tests := []struct {
		name         string
		fake         *fakeLLM
		wantDegraded bool
	}{
		{"model error", &fakeLLM{err: errors.New("connection refused")}, true},
		{"empty answer", &fakeLLM{answer: ""}, true},
		{"unparseable", &fakeLLM{answer: "I am not sure."}, true},
		{"explicit general", &fakeLLM{answer: "General"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(tt.fake)
			cat, d := r.Route(context.Background(), "", "tell me a joke")
			if cat != General {
				t.Errorf("category = %v, want GENERAL", cat)
			}
			if d.Degraded != tt.wantDegraded {
				t.Errorf("degraded = %v, want %v (%s)", d.Degraded, tt.wantDegraded, d.Reasoning)
			}
			if !strings.HasPrefix(d.RequestID, "r_") {
				t.Errorf("generated request id = %q", d.RequestID)
			}
		})
	}
}

func TestAuditLogAndStats(t *testing.T) {
	f := &fakeLLM{answer: "WEATHER_AGENT"}
	r := newTestRouter(f)

	for _, id := range []string{"a", "b", "c", "d"} {
		r.Route(context.Background(), id, "rain?")
	}
	f.answer = "nonsense"
	r.Route(context.Background(), "e", "hmm")

	log := r.GetAuditLog(0)
	if len(log) != 3 {
		t.Fatalf("audit log length = %d, want 3 (capped)", len(log))
	}
	if log[0].RequestID != "c" || log[2].RequestID != "e" {
		t.Errorf("audit order = %s..%s", log[0].RequestID, log[2].RequestID)
	}
	if got := r.GetAuditLog(1); len(got) != 1 || got[0].RequestID != "e" {
		t.Errorf("GetAuditLog(1) = %+v", got)
	}
	if r.Explain("a") != nil {
		t.Error("evicted decision should not be explainable")
	}

	stats := r.GetStats()
	if stats.TotalRequests != 5 {
		t.Errorf("total = %d", stats.TotalRequests)
	}
	if stats.CategoryCounts["WEATHER"] != 4 || stats.CategoryCounts["GENERAL"] != 1 {
		t.Errorf("category counts = %v", stats.CategoryCounts)
	}
	if stats.DegradedCount != 1 {
		t.Errorf("degraded = %d", stats.DegradedCount)
	}

	stats.CategoryCounts["WEATHER"] = 999
	if r.GetStats().CategoryCounts["WEATHER"] != 4 {
		t.Error("GetStats must return a copy")
	}
}

func TestRecordOutcome(t *testing.T) {
	r := newTestRouter(&fakeLLM{answer: "DOMO_AGENT"})
	r.Route(context.Background(), "r_lights", "lights on")
	r.RecordOutcome("r_lights", Outcome{Capability: "control_lights", NeedsValidation: true, Success: true})
	r.RecordOutcome("r_unknown", Outcome{Success: true})

	d := r.Explain("r_lights")
	if d.Outcome == nil || d.Outcome.Capability != "control_lights" {
		t.Fatalf("outcome = %+v", d.Outcome)
	}
	if got := r.GetStats().OutcomeCounts["staged"]; got != 1 {
		t.Errorf("staged count = %d", got)
	}
}

func TestParseCategory(t *testing.T) {
	if c, ok := ParseCategory(" home_automation "); !ok || c != HomeAutomation {
		t.Errorf("ParseCategory = %v, %v", c, ok)
	}
	if _, ok := ParseCategory("SPORTS"); ok {
		t.Error("unknown category accepted")
	}
}
