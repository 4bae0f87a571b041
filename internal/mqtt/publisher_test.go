package mqtt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nugget/majordomo/internal/config"
)

func TestInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	first, err := InstanceID(dir)
	if err != nil {
		t.Fatalf("InstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("InstanceID() = %q, not a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := InstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestInstanceID_ReplacesGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instance_id")
	if err := os.WriteFile(path, []byte("not-a-uuid\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := InstanceID(dir)
	if err != nil {
		t.Fatalf("InstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("InstanceID() = %q, want a fresh UUID", id)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		base, instance, want string
	}{
		{"majordomo", "", "majordomo"},
		{"", "", "majordomo"},
		{"house", "0192a4b3-7c1d-7e2f-8a9b-0c1d2e3f4a5b", "house-0192a4b3"},
	}
	for _, tt := range tests {
		if got := ClientID(tt.base, tt.instance); got != tt.want {
			t.Errorf("ClientID(%q, %q) = %q, want %q", tt.base, tt.instance, got, tt.want)
		}
	}
}

func TestTopics(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883", ClientID: "majordomo"}, "", nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "majordomo/majordomo/availability"},
		{"set", SetTopic("zigbee2mqtt", "Hue color lamp 1"), "zigbee2mqtt/Hue color lamp 1/set"},
		{"set trailing slash", SetTopic("zigbee2mqtt/", "bedroom"), "zigbee2mqtt/bedroom/set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestStatePayload(t *testing.T) {
	if got := string(StatePayload(true)); got != `{"state":"ON"}` {
		t.Errorf("StatePayload(true) = %s", got)
	}
	if got := string(StatePayload(false)); got != `{"state":"OFF"}` {
		t.Errorf("StatePayload(false) = %s", got)
	}
}

func TestPublish_NotStarted(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "", nil)
	err := p.Publish(context.Background(), "x/set", []byte("{}"), false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish before Start = %v, want ErrNotConnected", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		name    string
		broker  string
		wantTLS bool
		wantErr bool
	}{
		{"plain", "mqtt://broker.local:1883", false, false},
		{"tls", "mqtts://broker.local:8883", true, false},
		{"ssl alias", "ssl://broker.local:8883", true, false},
		{"no host", "broker.local", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(config.MQTTConfig{Broker: tt.broker, ClientID: "house"}, "", nil)
			cfg, err := p.clientConfig(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("clientConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if (cfg.TlsCfg != nil) != tt.wantTLS {
				t.Errorf("TLS = %v, want %v", cfg.TlsCfg != nil, tt.wantTLS)
			}
			if cfg.WillMessage.Topic != "majordomo/house/availability" || string(cfg.WillMessage.Payload) != Offline || !cfg.WillMessage.Retain {
				t.Errorf("will = %+v", cfg.WillMessage)
			}
			if cfg.ClientConfig.ClientID != "house" {
				t.Errorf("client id = %q", cfg.ClientConfig.ClientID)
			}
		})
	}
}

func TestAwaitConnection_NotStarted(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "", nil)
	if err := p.AwaitConnection(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("AwaitConnection before Start = %v, want ErrNotConnected", err)
	}
}
