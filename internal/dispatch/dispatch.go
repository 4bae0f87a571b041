// Package dispatch implements the request state machine. One
// instruction moves through ROUTED, AGENT_INVOKED and either
// DIRECT_ANSWER or CAPABILITY_RESOLUTION before it is RESPONDED to.
// Side-effecting capability calls are never run here; they are staged
// in the pending store and run later by Confirm.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/agents"
	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/events"
	"github.com/nugget/majordomo/internal/pending"
	"github.com/nugget/majordomo/internal/prompts"
	"github.com/nugget/majordomo/internal/router"
	"github.com/nugget/majordomo/internal/synth"
)

// State names a step of the request state machine.
type State string

const (
	StateRouted               State = "ROUTED"
	StateAgentInvoked         State = "AGENT_INVOKED"
	StateDirectAnswer         State = "DIRECT_ANSWER"
	StateCapabilityResolution State = "CAPABILITY_RESOLUTION"
	StateResponded            State = "RESPONDED"
)

// Detail strings reported for the non-capability paths.
const (
	DetailGeneral = "General processing"
)

// Request is one inbound instruction.
type Request struct {
	Instruction string
	// Session scopes the pending action. Empty means the default session.
	Session string
	// RequestID is generated when empty.
	RequestID string
}

// Result is the answer to one instruction. It is returned once and
// never persisted.
type Result struct {
	Response        string          `json:"response"`
	Details         []string        `json:"details"`
	NeedsValidation bool            `json:"needs_validation,omitempty"`
	ActionDetails   map[string]any  `json:"action_details,omitempty"`
	Category        router.Category `json:"category"`
	RequestID       string          `json:"request_id"`
}

// ConfirmResult is the answer to a confirm or cancel.
type ConfirmResult struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Router       *router.Router
	Agents       *agents.Registry
	Capabilities *capability.Registry
	Synthesizer  *synth.Synthesizer
	Pending      *pending.Store
	// Events is optional.
	Events *events.Bus
	// CapabilityTimeout bounds each capability invocation. Zero means
	// no deadline beyond the request context.
	CapabilityTimeout time.Duration
}

// Engine is the dispatch state machine.
type Engine struct {
	logger     *slog.Logger
	router     *router.Router
	agents     *agents.Registry
	caps       *capability.Registry
	synth      *synth.Synthesizer
	pending    *pending.Store
	events     *events.Bus
	capTimeout time.Duration
}

// New creates an Engine. Every dependency except Events is required.
func New(logger *slog.Logger, d Deps) (*Engine, error) {
	switch {
	case d.Router == nil:
		return nil, errors.New("dispatch: router is required")
	case d.Agents == nil:
		return nil, errors.New("dispatch: agent registry is required")
	case d.Capabilities == nil:
		return nil, errors.New("dispatch: capability registry is required")
	case d.Synthesizer == nil:
		return nil, errors.New("dispatch: synthesizer is required")
	case d.Pending == nil:
		return nil, errors.New("dispatch: pending store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:     logger,
		router:     d.Router,
		agents:     d.Agents,
		caps:       d.Capabilities,
		synth:      d.Synthesizer,
		pending:    d.Pending,
		events:     d.Events,
		capTimeout: d.CapabilityTimeout,
	}, nil
}

// Handle runs one instruction to completion. It never returns an
// error: classification, agent, and capability failures all become
// response text and detail strings.
func (e *Engine) Handle(ctx context.Context, req Request) *Result {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = router.NewRequestID()
	}
	log := e.logger.With("request_id", req.RequestID)

	log.Info("instruction received",
		"session", req.Session,
		"instruction_len", len(req.Instruction),
	)
	e.events.Emit(events.SourceDispatch, events.KindRequestStart, map[string]any{
		"request_id": req.RequestID,
		"session":    req.Session,
	})

	cat, decision := e.router.Route(ctx, req.RequestID, req.Instruction)
	e.transition(log, StateRouted, "category", cat)
	e.events.Emit(events.SourceRouter, events.KindRouted, map[string]any{
		"request_id": req.RequestID,
		"category":   cat,
		"degraded":   decision.Degraded,
		"latency_ms": decision.LatencyMs,
	})

	res := &Result{Category: cat, RequestID: req.RequestID}
	var outcome router.Outcome

	if cat == router.General {
		outcome = e.general(ctx, log, req, res)
	} else {
		outcome = e.delegate(ctx, log, req, cat, res)
	}
	if res.Details == nil {
		res.Details = []string{}
	}

	outcome.TotalLatencyMs = time.Since(start).Milliseconds()
	e.router.RecordOutcome(req.RequestID, outcome)
	e.transition(log, StateResponded,
		"needs_validation", res.NeedsValidation,
		"success", outcome.Success,
		"elapsed", time.Since(start),
	)
	e.events.Emit(events.SourceDispatch, events.KindRequestComplete, map[string]any{
		"request_id":       req.RequestID,
		"category":         cat,
		"needs_validation": res.NeedsValidation,
		"elapsed_ms":       outcome.TotalLatencyMs,
	})
	return res
}

// general answers with the model alone. No capability runs and the
// pending store is not touched.
func (e *Engine) general(ctx context.Context, log *slog.Logger, req Request, res *Result) router.Outcome {
	e.transition(log, StateDirectAnswer)
	e.events.Emit(events.SourceDispatch, events.KindDirectAnswer, map[string]any{
		"request_id": req.RequestID,
	})

	res.Details = []string{DetailGeneral}
	answer, err := e.synth.Direct(ctx, req.Instruction)
	if err != nil {
		log.Warn("general answer failed", "error", err)
		res.Response = prompts.CouldNotComplete
		res.Details = append(res.Details, err.Error())
		return router.Outcome{}
	}
	res.Response = answer
	return router.Outcome{Success: true}
}

// delegate runs the agent bound to cat and resolves its output.
func (e *Engine) delegate(ctx context.Context, log *slog.Logger, req Request, cat router.Category, res *Result) router.Outcome {
	binding, ok := e.agents.Binding(cat)
	if !ok {
		log.Warn("no agent bound, answering directly", "category", cat)
		return e.general(ctx, log, req, res)
	}

	out, err := e.agents.Invoke(ctx, cat, req.Instruction)
	if err != nil {
		log.Warn("agent invocation failed", "agent", binding.Name, "error", err)
		res.Response = prompts.CouldNotComplete
		res.Details = []string{err.Error()}
		return router.Outcome{}
	}

	callNames := make([]string, len(out.Calls))
	for i, c := range out.Calls {
		callNames[i] = c.Name
	}
	e.transition(log, StateAgentInvoked, "agent", out.Agent, "calls", callNames)
	e.events.Emit(events.SourceDispatch, events.KindAgentInvoked, map[string]any{
		"request_id": req.RequestID,
		"agent":      out.Agent,
		"calls":      callNames,
	})

	if out.Kind() == agents.TextAnswer {
		e.transition(log, StateDirectAnswer)
		e.events.Emit(events.SourceDispatch, events.KindDirectAnswer, map[string]any{
			"request_id": req.RequestID,
		})
		res.Details = []string{"Handled by " + out.Agent}
		if out.Text == "" {
			res.Response = prompts.CouldNotComplete
			return router.Outcome{}
		}
		res.Response = out.Text
		return router.Outcome{Success: true}
	}

	e.transition(log, StateCapabilityResolution)
	return e.resolve(ctx, log, req, binding, out, res)
}

// resolve walks the agent's calls in order. The first call that
// resolves ends the walk: a SAFE call is run and synthesized, a
// SIDE_EFFECTING call is staged. Calls that fail resolution add a
// detail and the walk continues.
func (e *Engine) resolve(ctx context.Context, log *slog.Logger, req Request, binding agents.Binding, out agents.Output, res *Result) router.Outcome {
	var details []string

	for _, call := range out.Calls {
		c, args, err := e.caps.Resolve(call, binding.Capabilities)
		if err != nil {
			log.Warn("capability call rejected", "capability", call.Name, "error", err)
			e.events.Emit(events.SourceDispatch, events.KindCapabilityRejected, map[string]any{
				"request_id": req.RequestID,
				"capability": call.Name,
				"error":      err.Error(),
			})
			details = append(details, rejectionDetail(call, err))
			continue
		}

		switch c.Class {
		case capability.Safe:
			return e.runSafe(ctx, log, req, c, args, details, res)
		case capability.SideEffecting:
			a, err := e.pending.Stage(req.Session, c.Kind, args)
			if err != nil {
				log.Error("staging failed", "capability", c.Kind, "error", err)
				details = append(details, fmt.Sprintf("Could not stage %s: %v", c.Kind, err))
				continue
			}
			e.events.Emit(events.SourcePending, events.KindActionStaged, map[string]any{
				"session":    a.Session,
				"capability": a.Kind,
				"token":      a.Token,
				"expires_at": a.ExpiresAt,
			})
			res.Response = StagedMessage(a)
			res.Details = append(details, "Awaiting confirmation: "+string(a.Kind))
			res.NeedsValidation = true
			res.ActionDetails = ActionDetails(a)
			return router.Outcome{Capability: string(c.Kind), NeedsValidation: true, Success: true}
		}
	}

	res.Response = out.Text
	if res.Response == "" {
		res.Response = prompts.CouldNotComplete
	}
	res.Details = details
	return router.Outcome{}
}

// runSafe invokes c and synthesizes the answer. Execution failures are
// fed to the synthesizer as text; a synthesis failure returns the raw
// output.
func (e *Engine) runSafe(ctx context.Context, log *slog.Logger, req Request, c *capability.Capability, args capability.Args, details []string, res *Result) router.Outcome {
	e.events.Emit(events.SourceDispatch, events.KindCapabilityCall, map[string]any{
		"request_id": req.RequestID,
		"capability": c.Kind,
	})

	start := time.Now()
	raw, err := c.Run(ctx, args, e.capTimeout)
	e.events.Emit(events.SourceDispatch, events.KindCapabilityDone, map[string]any{
		"request_id":  req.RequestID,
		"capability":  c.Kind,
		"ok":          err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		log.Warn("capability failed", "capability", c.Kind, "error", err)
		raw = "Error: " + err.Error()
		details = append(details, err.Error())
	} else {
		log.Debug("capability returned", "capability", c.Kind, "output_len", len(raw))
	}

	answer, serr := e.synth.Synthesize(ctx, c.Kind, raw, req.Instruction)
	if serr != nil {
		log.Warn("synthesis failed, returning raw output", "capability", c.Kind, "error", serr)
		res.Response = raw
		res.Details = append(details, synth.Detail(c.Kind), "Synthesis unavailable: "+serr.Error())
		return router.Outcome{Capability: string(c.Kind), Success: err == nil}
	}

	res.Response = answer
	res.Details = append(details, synth.Detail(c.Kind))
	return router.Outcome{Capability: string(c.Kind), Success: err == nil}
}

// Confirm runs the session's pending action. A missing, expired, or
// token-mismatched action and a failed invocation all report
// Success false; none of them is an error.
func (e *Engine) Confirm(ctx context.Context, session, token string) ConfirmResult {
	a, out, err := e.pending.Confirm(ctx, session, token, e.runStaged)

	switch {
	case errors.Is(err, pending.ErrNoPendingAction):
		return ConfirmResult{Response: "There is no pending action to confirm.", Success: false}
	case errors.Is(err, pending.ErrTokenRequired), errors.Is(err, pending.ErrTokenMismatch):
		e.logger.Warn("confirmation rejected", "session", a.Session, "error", err)
		return ConfirmResult{Response: "Confirmation rejected: " + err.Error() + ".", Success: false}
	case err != nil && a.Kind == "":
		e.logger.Error("confirmation failed", "session", session, "error", err)
		return ConfirmResult{Response: "Confirmation failed: " + err.Error(), Success: false}
	}

	e.events.Emit(events.SourcePending, events.KindActionConfirmed, map[string]any{
		"session":    a.Session,
		"capability": a.Kind,
		"ok":         err == nil,
	})
	if err != nil {
		return ConfirmResult{Response: "Action failed: " + err.Error(), Success: false}
	}
	if out == "" {
		out = prompts.TasksCompleted
	}
	return ConfirmResult{Response: out, Success: true}
}

func (e *Engine) runStaged(ctx context.Context, a pending.Action) (string, error) {
	c, ok := e.caps.Get(a.Kind)
	if !ok {
		return "", fmt.Errorf("%q: %w", a.Kind, capability.ErrUnknownCapability)
	}
	return c.Run(ctx, a.Args, e.capTimeout)
}

// Cancel discards the session's pending action. It always succeeds.
func (e *Engine) Cancel(session string) ConfirmResult {
	had, err := e.pending.Cancel(session)
	if err != nil {
		e.logger.Error("cancel failed", "session", session, "error", err)
		return ConfirmResult{Response: "Cancel failed: " + err.Error(), Success: false}
	}
	e.events.Emit(events.SourcePending, events.KindActionCancelled, map[string]any{
		"session":    session,
		"had_action": had,
	})
	if !had {
		return ConfirmResult{Response: "There is no pending action to cancel.", Success: true}
	}
	return ConfirmResult{Response: "Pending action cancelled.", Success: true}
}

// Pending returns the session's staged action, if any.
func (e *Engine) Pending(session string) (pending.Action, bool, error) {
	return e.pending.Peek(session)
}

func (e *Engine) transition(log *slog.Logger, s State, attrs ...any) {
	log.Debug("dispatch state", append([]any{"state", s}, attrs...)...)
}

// StagedMessage is the response text for a staged action.
func StagedMessage(a pending.Action) string {
	return fmt.Sprintf("Confirmation required before %s (%s). Confirm to proceed or cancel to discard.",
		a.Kind, formatArgs(a.Args))
}

// ActionDetails echoes a staged action: its arguments plus the
// confirmation token and expiry.
func ActionDetails(a pending.Action) map[string]any {
	d := make(map[string]any, len(a.Args)+2)
	for k, v := range a.Args {
		d[k] = v
	}
	d["token"] = a.Token
	if !a.ExpiresAt.IsZero() {
		d["expires_at"] = a.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return d
}

func rejectionDetail(call capability.Call, err error) string {
	switch {
	case errors.Is(err, capability.ErrUnknownCapability):
		return fmt.Sprintf("Rejected unknown capability %q", call.Name)
	case errors.Is(err, capability.ErrNotBound):
		return fmt.Sprintf("Rejected capability %q: not available to this agent", call.Name)
	default:
		return "Rejected " + err.Error()
	}
}

func formatArgs(args capability.Args) string {
	if len(args) == 0 {
		return "no arguments"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return strings.Join(parts, ", ")
}
