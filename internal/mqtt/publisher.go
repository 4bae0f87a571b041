package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/majordomo/internal/config"
)

// ErrNotConnected is returned by Publish before Start or after Stop.
var ErrNotConnected = errors.New("mqtt publisher not started")

// Publisher owns the MQTT connection.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. instanceID, when set,
// is folded into the client identifier.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:      cfg,
		clientID: ClientID(cfg.ClientID, instanceID),
		logger:   logger,
	}
}

// ClientID builds the MQTT client identifier from the configured base
// and the first block of the instance ID.
func ClientID(base, instanceID string) string {
	if base == "" {
		base = "majordomo"
	}
	if instanceID == "" {
		return base
	}
	short, _, _ := strings.Cut(instanceID, "-")
	return base + "-" + short
}

// Availability payloads, retained on the availability topic.
const (
	Online  = "online"
	Offline = "offline"
)

// connectWait bounds how long Start waits for the first CONNACK.
const connectWait = 10 * time.Second

// Start connects to the broker and returns once connected, or after
// connectWait with autopaho still retrying in the background. Only an
// unusable broker URL is an error.
func (p *Publisher) Start(ctx context.Context) error {
	cfg, err := p.clientConfig(ctx)
	if err != nil {
		return err
	}
	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, connectWait)
	defer cancel()
	if err := cm.AwaitConnection(waitCtx); err != nil {
		p.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", p.cfg.Broker, "error", err)
	}
	return nil
}

// clientConfig translates the light backend's broker settings into an
// autopaho configuration with a retained last-will of Offline.
func (p *Publisher) clientConfig(ctx context.Context) (autopaho.ClientConfig, error) {
	broker, err := url.Parse(p.cfg.Broker)
	if err != nil || broker.Host == "" {
		return autopaho.ClientConfig{}, fmt.Errorf("mqtt broker %q: invalid URL", p.cfg.Broker)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{broker},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte(Offline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker, "client_id", p.clientID)
			p.announce(ctx, cm, Online)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "broker", p.cfg.Broker, "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: p.clientID},
	}
	if broker.Scheme == "mqtts" || broker.Scheme == "ssl" {
		cfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg, nil
}

// conn returns the live connection manager.
func (p *Publisher) conn() (*autopaho.ConnectionManager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cm == nil {
		return nil, ErrNotConnected
	}
	return p.cm, nil
}

// Stop announces Offline and disconnects. Calling it before Start is
// harmless.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.cm = nil
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.announce(ctx, cm, Offline)
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker session is up or ctx ends.
// It doubles as the health probe for the broker.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm, err := p.conn()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

// Publish sends payload to topic at QoS 1.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	cm, err := p.conn()
	if err != nil {
		return err
	}
	msg := &paho.Publish{Topic: topic, Payload: payload, QoS: 1, Retain: retain}
	if _, err := cm.Publish(ctx, msg); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	p.logger.Debug("mqtt published", "topic", topic, "payload", string(payload))
	return nil
}

func (p *Publisher) availabilityTopic() string {
	return "majordomo/" + p.clientID + "/availability"
}

func (p *Publisher) announce(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	msg := &paho.Publish{Topic: p.availabilityTopic(), Payload: []byte(status), QoS: 1, Retain: true}
	if _, err := cm.Publish(ctx, msg); err != nil {
		p.logger.Warn("mqtt availability not published", "status", status, "error", err)
		return
	}
	p.logger.Debug("mqtt availability published", "status", status)
}

// SetTopic returns the command topic for device under prefix.
func SetTopic(prefix, device string) string {
	return strings.TrimRight(prefix, "/") + "/" + device + "/set"
}

// StatePayload returns the command payload switching a device on or off.
func StatePayload(on bool) []byte {
	state := "OFF"
	if on {
		state = "ON"
	}
	b, _ := json.Marshal(map[string]string{"state": state})
	return b
}
