package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Args holds the arguments of a capability call as decoded from the
// model's output.
type Args map[string]any

// String returns the string argument named key, or "" when it is
// absent or not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Strings returns the list argument named key, keeping only string
// elements.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy of a.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Invoker performs a capability. Errors are converted to text by the
// caller; an invoker never needs to format its own failures.
type Invoker func(ctx context.Context, args Args) (string, error)

// Capability is a named, schema-described action.
type Capability struct {
	Kind        Kind
	Description string
	// Schema is a JSON schema object describing Args.
	Schema map[string]any
	// Class is derived from Kind at registration.
	Class  Class
	Invoke Invoker
	// Normalize, when set, canonicalizes arguments before validation
	// (for example upper-casing enum values).
	Normalize func(Args) Args

	schema *gojsonschema.Schema
}

// Call is a request, produced by an agent, to run one capability.
type Call struct {
	// Name is the tool name exactly as the model emitted it.
	Name string
	Args Args
}

// Kind returns the catalog kind for c.Name, if any.
func (c Call) Kind() (Kind, bool) { return ParseKind(c.Name) }

// Registry holds the capabilities available to agents. It is filled
// at start-up and read-only after Freeze.
type Registry struct {
	mu     sync.RWMutex
	caps   map[Kind]*Capability
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[Kind]*Capability)}
}

// Register adds a capability. The kind must be part of the catalog,
// registered at most once, and its schema must compile.
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if !c.Kind.Known() {
		return fmt.Errorf("register %q: %w", c.Kind, ErrUnknownCapability)
	}
	if _, dup := r.caps[c.Kind]; dup {
		return fmt.Errorf("register %q: already registered", c.Kind)
	}
	if c.Invoke == nil {
		return fmt.Errorf("register %q: nil invoker", c.Kind)
	}
	if c.Schema == nil {
		c.Schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.Schema))
	if err != nil {
		return fmt.Errorf("register %q: compile schema: %w", c.Kind, err)
	}
	c.schema = compiled
	c.Class = c.Kind.Class()
	r.caps[c.Kind] = &c
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the capability registered for kind.
func (r *Registry) Get(kind Kind) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[kind]
	return c, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.caps))
	for k := range r.caps {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// All returns the registered capabilities ordered by kind.
func (r *Registry) All() []*Capability {
	kinds := r.Kinds()
	out := make([]*Capability, 0, len(kinds))
	for _, k := range kinds {
		c, _ := r.Get(k)
		out = append(out, c)
	}
	return out
}

// Tools returns OpenAI-style function definitions for the given kinds.
// Unregistered kinds are skipped.
func (r *Registry) Tools(kinds []Kind) []map[string]any {
	var result []map[string]any
	for _, k := range kinds {
		c, ok := r.Get(k)
		if !ok {
			continue
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        string(c.Kind),
				"description": c.Description,
				"parameters":  c.Schema,
			},
		})
	}
	return result
}

// Resolve checks a call against the registry and the caller's bound
// set, then normalizes and validates its arguments. It returns the
// capability and the exact arguments to invoke or stage it with.
func (r *Registry) Resolve(call Call, bound []Kind) (*Capability, Args, error) {
	kind, ok := call.Kind()
	if !ok {
		return nil, nil, fmt.Errorf("%q: %w", call.Name, ErrUnknownCapability)
	}
	c, ok := r.Get(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%q: %w", call.Name, ErrUnknownCapability)
	}
	if !contains(bound, kind) {
		return nil, nil, fmt.Errorf("%q: %w", call.Name, ErrNotBound)
	}
	args := call.Args.Clone()
	if c.Normalize != nil {
		args = c.Normalize(args)
	}
	if err := c.Validate(args); err != nil {
		return nil, nil, err
	}
	return c, args, nil
}

// Validate checks args against the capability's JSON schema.
func (c *Capability) Validate(args Args) error {
	if args == nil {
		args = Args{}
	}
	result, err := c.schema.Validate(gojsonschema.NewGoLoader(map[string]any(args)))
	if err != nil {
		return &ArgumentError{Kind: c.Kind, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	ae := &ArgumentError{Kind: c.Kind}
	for _, re := range result.Errors() {
		if re.Type() == "required" {
			if prop, ok := re.Details()["property"].(string); ok {
				ae.Missing = append(ae.Missing, prop)
			}
		}
		ae.Problems = append(ae.Problems, re.String())
	}
	sort.Strings(ae.Missing)
	return ae
}

// Run invokes the capability with a deadline. Invoker errors and
// panics are returned as *ExecutionError.
func (c *Capability) Run(ctx context.Context, args Args, timeout time.Duration) (out string, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = &ExecutionError{Kind: c.Kind, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err = c.Invoke(ctx, args)
	if err != nil {
		return "", &ExecutionError{Kind: c.Kind, Err: err}
	}
	return out, nil
}

func contains(kinds []Kind, k Kind) bool {
	for _, b := range kinds {
		if b == k {
			return true
		}
	}
	return false
}
