package llm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNoProvider is returned when a model maps to no client and there is
// no fallback.
var ErrNoProvider = errors.New("no LLM provider configured")

// MultiClient sends each model to the provider configured for it
// (llm.models in the config file). Unmapped models, and models whose
// provider was never registered, go to the fallback.
type MultiClient struct {
	fallback  Client
	providers map[string]Client
	routes    map[string]string // model → provider
}

// NewMultiClient creates a MultiClient. fallback may be nil.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		fallback:  fallback,
		providers: map[string]Client{},
		routes:    map[string]string{},
	}
}

// AddProvider registers client under name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.providers[name] = client
}

// AddModel routes model to the named provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.routes[model] = provider
}

// Providers lists registered provider names in sorted order.
func (m *MultiClient) Providers() []string {
	return slices.Sorted(maps.Keys(m.providers))
}

// Chat implements Client.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	c := m.providers[m.routes[model]]
	if c == nil {
		c = m.fallback
	}
	if c == nil {
		return nil, fmt.Errorf("model %q: %w", model, ErrNoProvider)
	}
	return c.Chat(ctx, model, messages, tools)
}

// Ping checks the fallback and every provider a model is routed to.
// Providers nothing routes to are not probed.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil {
		return ErrNoProvider
	}
	errs := []error{m.fallback.Ping(ctx)}

	checked := map[string]bool{}
	for _, name := range m.routes {
		c, ok := m.providers[name]
		if !ok || checked[name] || c == m.fallback {
			continue
		}
		checked[name] = true
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
