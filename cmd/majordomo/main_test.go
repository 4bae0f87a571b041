package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/majordomo/internal/api"
	"github.com/nugget/majordomo/internal/dispatch"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, io.Discard, args); err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: majordomo") {
			t.Errorf("run(%v) output = %q", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"bogus"}, "unknown command"},
		{[]string{"-x"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"ask"}, "usage: majordomo ask"},
		{[]string{"-config", "/nonexistent/config.yaml", "ask", "hi"}, "/nonexistent/config.yaml"},
	}
	for _, tt := range tests {
		err := run(context.Background(), io.Discard, io.Discard, tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("run(%v) error = %v, want containing %q", tt.args, err, tt.want)
		}
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("version missing: %v", info)
	}
}

func TestRun_VersionText(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output = %q", out.String())
	}
}

// fakeOpenAI answers every chat completion with reply.
func fakeOpenAI(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"test",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],`+
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_AskGeneral(t *testing.T) {
	llmSrv := fakeOpenAI(t, "Paris is the capital of France.")
	cfgPath := writeConfig(t, fmt.Sprintf("llm:\n  openai:\n    base_url: %s/v1\n", llmSrv.URL))

	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"-config", cfgPath, "-o", "json", "ask", "capital", "of", "France?"})
	if err != nil {
		t.Fatalf("run ask: %v", err)
	}

	var res dispatch.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("ask output is not JSON: %v\n%s", err, out.String())
	}
	if res.Category != "GENERAL" {
		t.Errorf("category = %q, want GENERAL", res.Category)
	}
	if res.Response != "Paris is the capital of France." {
		t.Errorf("response = %q", res.Response)
	}
	if len(res.Details) != 1 || res.Details[0] != "General processing" {
		t.Errorf("details = %v", res.Details)
	}
}

func TestRun_RemoteConfirm(t *testing.T) {
	var got []api.ActionRequest
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ActionRequest
		json.NewDecoder(r.Body).Decode(&req)
		got = append(got, req)
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(dispatch.ConfirmResult{Response: "BEDROOM light set to OFF.", Success: true})
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"-server", srv.URL + "/", "-session", "s1", "confirm", "tok-1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if strings.TrimSpace(out.String()) != "BEDROOM light set to OFF." {
		t.Errorf("output = %q", out.String())
	}
	if len(got) != 1 || got[0].Session != "s1" || got[0].Token != "tok-1" || paths[0] != "/confirm-action" {
		t.Errorf("requests = %+v %v", got, paths)
	}

	out.Reset()
	if err := run(context.Background(), &out, io.Discard, []string{"-server", srv.URL, "cancel"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if paths[1] != "/cancel-action" {
		t.Errorf("cancel path = %q", paths[1])
	}
}

func TestRun_RemoteConfirmFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dispatch.ConfirmResult{Response: "There is no pending action to confirm."})
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"-server", srv.URL, "confirm"})
	if err == nil {
		t.Fatal("expected error for unsuccessful confirm")
	}
	if !strings.Contains(out.String(), "no pending action") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_RemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := run(context.Background(), io.Discard, io.Discard, []string{"-server", srv.URL, "confirm"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v", err)
	}
}

func TestServerURL_FromConfig(t *testing.T) {
	cfgPath := writeConfig(t, "listen:\n  port: 9123\n")
	got, err := serverURL(options{configPath: cfgPath})
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://127.0.0.1:9123" {
		t.Errorf("serverURL() = %q", got)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("MAJORDOMO_TEST_PORT=9555\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAJORDOMO_TEST_PORT", "")
	os.Unsetenv("MAJORDOMO_TEST_PORT")

	cfgPath := writeConfig(t, "listen:\n  port: ${MAJORDOMO_TEST_PORT}\n")
	cfg, _, err := loadConfig(options{configPath: cfgPath, envFile: envPath})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen.Port != 9555 {
		t.Errorf("port = %d, want 9555 from env file", cfg.Listen.Port)
	}

	if _, _, err := loadConfig(options{configPath: cfgPath, envFile: filepath.Join(dir, "missing.env")}); err == nil {
		t.Error("expected error for missing explicit env file")
	}
}
