package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/api"
	"github.com/nugget/majordomo/internal/buildinfo"
	"github.com/nugget/majordomo/internal/dispatch"
	"github.com/nugget/majordomo/internal/httpkit"
)

// serverURL returns the base URL of the running server: -server when
// given, otherwise the configured listen port on loopback.
func serverURL(opts options) (string, error) {
	if opts.server != "" {
		return strings.TrimRight(opts.server, "/"), nil
	}
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	host := cfg.Listen.Address
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Listen.Port), nil
}

// runRemoteAction posts to /confirm-action or /cancel-action on a
// running server. Staged actions live in the server process, so these
// commands cannot act locally.
func runRemoteAction(ctx context.Context, stdout io.Writer, opts options, path, token string) error {
	base, err := serverURL(opts)
	if err != nil {
		return err
	}

	body, err := json.Marshal(api.ActionRequest{Session: opts.session, Token: token})
	if err != nil {
		return err
	}

	client := httpkit.NewClient(
		httpkit.WithTimeout(2*time.Minute),
		httpkit.WithUserAgent(buildinfo.UserAgent()),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact server %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var res dispatch.ConfirmResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Response)
	if !res.Success {
		return fmt.Errorf("%s failed", strings.TrimPrefix(path, "/"))
	}
	return nil
}
