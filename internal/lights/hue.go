package lights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/majordomo/internal/httpkit"
)

// Hue drives lights through a Philips Hue bridge's v1 REST API.
type Hue struct {
	baseURL    string // http://<bridge>/api/<username>
	httpClient *http.Client
	logger     *slog.Logger

	mu  sync.Mutex
	ids map[string]string // lower-cased light name → bridge id
}

// NewHue creates a Hue controller. bridge is an IP address or host;
// a full URL (with scheme) is used as given.
func NewHue(bridge, username string, logger *slog.Logger) *Hue {
	if logger == nil {
		logger = slog.Default()
	}
	base := bridge
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Hue{
		baseURL: strings.TrimRight(base, "/") + "/api/" + username,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
		ids:    make(map[string]string),
	}
}

// Name implements Controller.
func (h *Hue) Name() string { return "hue" }

// hueResult is one element of a bridge response array.
type hueResult struct {
	Success map[string]any `json:"success,omitempty"`
	Error   *hueError      `json:"error,omitempty"`
}

type hueError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *hueError) Error() string {
	return fmt.Sprintf("hue error %d at %s: %s", e.Type, e.Address, e.Description)
}

// SetPower implements Controller. device is a light name as shown in
// the Hue app, or a numeric bridge id.
func (h *Hue) SetPower(ctx context.Context, device string, on bool) error {
	id, err := h.resolve(ctx, device)
	if err != nil {
		return err
	}

	raw, err := h.do(ctx, http.MethodPut, "/lights/"+id+"/state", map[string]bool{"on": on})
	if err != nil {
		return err
	}
	var results []hueResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("decode state response: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return r.Error
		}
	}
	return nil
}

// resolve maps a light name to its bridge id, fetching the light list
// on a cache miss.
func (h *Hue) resolve(ctx context.Context, device string) (string, error) {
	if _, err := strconv.Atoi(device); err == nil {
		return device, nil
	}
	key := strings.ToLower(device)

	h.mu.Lock()
	id, ok := h.ids[key]
	h.mu.Unlock()
	if ok {
		return id, nil
	}

	raw, err := h.do(ctx, http.MethodGet, "/lights", nil)
	if err != nil {
		return "", err
	}

	// An unauthorized user gets a 200 with an error array.
	if len(raw) > 0 && raw[0] == '[' {
		var results []hueResult
		if err := json.Unmarshal(raw, &results); err == nil && len(results) > 0 && results[0].Error != nil {
			return "", results[0].Error
		}
		return "", fmt.Errorf("unexpected light list response")
	}

	var lights map[string]struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &lights); err != nil {
		return "", fmt.Errorf("decode light list: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for lid, l := range lights {
		h.ids[strings.ToLower(l.Name)] = lid
	}
	id, ok = h.ids[key]
	if !ok {
		return "", fmt.Errorf("no light named %q on bridge", device)
	}
	h.logger.Debug("hue light resolved", "name", device, "id", id)
	return id, nil
}

// do sends a bridge request and returns the raw JSON reply. The bridge
// answers most errors with HTTP 200 and an error array.
func (h *Hue) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	req, err := httpkit.NewJSONRequest(ctx, method, h.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := httpkit.DoJSON(h.httpClient, req, &raw); err != nil {
		return nil, fmt.Errorf("hue bridge: %w", err)
	}
	return raw, nil
}
