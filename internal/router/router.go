// Package router classifies free-text instructions into the category
// of agent that should handle them, and keeps an audit log of every
// decision for inspection over the API.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/majordomo/internal/llm"
)

// Category is the closed set of request categories.
type Category string

const (
	Weather        Category = "WEATHER"
	HomeAutomation Category = "HOME_AUTOMATION"
	Personal       Category = "PERSONAL"
	General        Category = "GENERAL"
)

// Label returns the token the classifier model is asked to answer with.
func (c Category) Label() string {
	switch c {
	case Weather:
		return "WEATHER_AGENT"
	case HomeAutomation:
		return "DOMO_AGENT"
	case Personal:
		return "PERSONAL_AGENT"
	default:
		return "GENERAL"
	}
}

// Categories returns every category, routable ones first.
func Categories() []Category {
	return []Category{Weather, HomeAutomation, Personal, General}
}

// ParseCategory accepts a category name (case-insensitive).
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, true
		}
	}
	return General, false
}

// matchOrder is the order labels are searched for in a model answer.
var matchOrder = []Category{Weather, HomeAutomation, Personal}

// SystemPrompt instructs the classifier model.
const SystemPrompt = "You are a routing assistant. Respond with exactly one word: " +
	"'WEATHER_AGENT' for climate/temperature, " +
	"'DOMO_AGENT' for lights/home appliances, " +
	"'PERSONAL_AGENT' for calendar, emails, or NEWS/REPORTS. " +
	"Otherwise, respond with 'GENERAL'."

// Classify maps a raw model answer to a category. The answer is
// trimmed and upper-cased and the first label found as a substring
// wins. ok is false when no label matched, including an explicit
// GENERAL answer.
func Classify(raw string) (cat Category, ok bool) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	for _, c := range matchOrder {
		if strings.Contains(norm, c.Label()) {
			return c, true
		}
	}
	return General, false
}

// Decision records how an instruction was classified.
type Decision struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Input analysis
	QueryLength int    `json:"query_length"`
	Model       string `json:"model"`

	// Outcome
	RawResponse string   `json:"raw_response"`
	Category    Category `json:"category"`
	Degraded    bool     `json:"degraded"`
	Reasoning   string   `json:"reasoning"`
	LatencyMs   int64    `json:"latency_ms"`

	// Post-execution (filled in by RecordOutcome)
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Outcome summarizes how a routed request ended.
type Outcome struct {
	Capability      string `json:"capability,omitempty"`
	NeedsValidation bool   `json:"needs_validation"`
	Success         bool   `json:"success"`
	TotalLatencyMs  int64  `json:"total_latency_ms"`
}

// Config holds router configuration.
type Config struct {
	Model       string        // Model used for classification
	Timeout     time.Duration // Bound on the classifier call (0 = none)
	MaxAuditLog int           // How many decisions to keep in memory
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests  int64            `json:"total_requests"`
	CategoryCounts map[string]int64 `json:"category_counts"`
	DegradedCount  int64            `json:"degraded_count"`
	AvgLatencyMs   int64            `json:"avg_latency_ms"`
	OutcomeCounts  map[string]int64 `json:"outcome_counts"`
}

// Router classifies instructions with a language model.
type Router struct {
	logger *slog.Logger
	llm    llm.Client
	config Config

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// NewRouter creates a router with the given configuration.
func NewRouter(logger *slog.Logger, client llm.Client, config Config) *Router {
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		llm:      client,
		config:   config,
		auditLog: make([]Decision, 0, config.MaxAuditLog),
		stats: Stats{
			CategoryCounts: make(map[string]int64),
			OutcomeCounts:  make(map[string]int64),
		},
	}
}

// Route classifies instruction. It never fails: a model error or an
// unrecognized answer yields General with Decision.Degraded set.
// An empty requestID is replaced with a fresh one.
func (r *Router) Route(ctx context.Context, requestID, instruction string) (Category, *Decision) {
	if requestID == "" {
		requestID = NewRequestID()
	}
	decision := &Decision{
		RequestID:   requestID,
		Timestamp:   time.Now(),
		QueryLength: len(instruction),
		Model:       r.config.Model,
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.llm.Chat(ctx, r.config.Model, []llm.Message{
		llm.System(SystemPrompt),
		llm.User(instruction),
	}, nil)
	decision.LatencyMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		decision.Category = General
		decision.Degraded = true
		decision.Reasoning = "classifier call failed: " + err.Error()
	default:
		decision.RawResponse = resp.Message.Content
		cat, ok := Classify(resp.Message.Content)
		decision.Category = cat
		switch {
		case ok:
			decision.Reasoning = "matched label " + cat.Label()
		case strings.Contains(strings.ToUpper(resp.Message.Content), General.Label()):
			decision.Reasoning = "model answered GENERAL"
		default:
			decision.Degraded = true
			decision.Reasoning = "no category label in model answer"
		}
	}

	r.recordDecision(*decision)

	level := slog.LevelInfo
	if decision.Degraded {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "instruction routed",
		"request_id", decision.RequestID,
		"category", decision.Category,
		"degraded", decision.Degraded,
		"latency_ms", decision.LatencyMs,
		"reasoning", decision.Reasoning,
	)

	return decision.Category, decision
}

// RecordOutcome attaches execution results to a decision.
func (r *Router) RecordOutcome(requestID string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			r.auditLog[i].Outcome = &o
			switch {
			case o.NeedsValidation:
				r.stats.OutcomeCounts["staged"]++
			case o.Success:
				r.stats.OutcomeCounts["answered"]++
			default:
				r.stats.OutcomeCounts["failed"]++
			}
			break
		}
	}
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.CategoryCounts[string(d.Category)]++
	if d.Degraded {
		r.stats.DegradedCount++
	}
	// Running mean over all requests.
	r.stats.AvgLatencyMs += (d.LatencyMs - r.stats.AvgLatencyMs) / r.stats.TotalRequests
}

// GetAuditLog returns recent routing decisions, oldest first.
func (r *Router) GetAuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}

	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns a snapshot of routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.stats
	s.CategoryCounts = make(map[string]int64, len(r.stats.CategoryCounts))
	for k, v := range r.stats.CategoryCounts {
		s.CategoryCounts[k] = v
	}
	s.OutcomeCounts = make(map[string]int64, len(r.stats.OutcomeCounts))
	for k, v := range r.stats.OutcomeCounts {
		s.OutcomeCounts[k] = v
	}
	return s
}

// Explain returns the decision recorded for requestID, or nil.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

// NewRequestID returns a short unique request identifier.
func NewRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
