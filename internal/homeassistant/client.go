// Package homeassistant talks to the Home Assistant REST API. Majordomo
// only needs the liveness check and service calls that switch lights.
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/httpkit"
)

// ErrUnauthorized is returned when Home Assistant rejects the token.
var ErrUnauthorized = errors.New("home assistant rejected the access token")

// Client is a Home Assistant REST client authenticated with a
// long-lived access token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the instance at baseURL. LAN dials
// occasionally fail with "no route to host" while ARP refreshes, so
// dial errors are retried briefly.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// Ping verifies the API answers and accepts the token.
func (c *Client) Ping(ctx context.Context) error {
	var status struct {
		Message string `json:"message"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/", nil, &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("home assistant not ready: %q", status.Message)
	}
	return nil
}

// CallService invokes domain.service with data as the service payload.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	return c.call(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, data, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := httpkit.NewJSONRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	err = httpkit.DoJSON(c.http, req, out)
	var se *httpkit.StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// Domain returns the domain part of an entity ID ("light" for
// "light.kitchen"), or "" if entityID has none.
func Domain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return ""
	}
	return domain
}
