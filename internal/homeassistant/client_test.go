package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "test-token", nil)
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"running", `{"message":"API running."}`, false},
		{"starting", `{"message":"starting"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/" {
					http.NotFound(w, r)
					return
				}
				io.WriteString(w, tt.body)
			})
			if err := c.Ping(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPing_BadToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	c.token = "wrong"
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Ping() error = %v, want ErrUnauthorized", err)
	}
}

func TestCallService(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `[]`)
	})

	err := c.CallService(context.Background(), "light", "turn_on", map[string]any{"entity_id": "light.living_room"})
	if err != nil {
		t.Fatalf("CallService() error: %v", err)
	}
	if gotPath != "/api/services/light/turn_on" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["entity_id"] != "light.living_room" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestCallService_UnknownEntity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Entity not found", http.StatusBadRequest)
	})
	err := c.CallService(context.Background(), "light", "turn_off", map[string]any{"entity_id": "light.garage"})
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("CallService() error = %v, want HTTP 400", err)
	}
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"light.kitchen":  "light",
		"switch.lamp":    "switch",
		"no_domain_here": "",
		"":               "",
	}
	for in, want := range tests {
		if got := Domain(in); got != want {
			t.Errorf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}
