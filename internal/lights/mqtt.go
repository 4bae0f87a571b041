package lights

import (
	"context"

	"github.com/nugget/majordomo/internal/mqtt"
)

// Publisher is the part of the MQTT publisher the backend uses.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// MQTT switches Zigbee2MQTT-style devices by publishing state commands.
type MQTT struct {
	pub    Publisher
	prefix string
}

// NewMQTT creates an MQTT controller publishing under prefix.
func NewMQTT(pub Publisher, prefix string) *MQTT {
	return &MQTT{pub: pub, prefix: prefix}
}

// Name implements Controller.
func (m *MQTT) Name() string { return "mqtt" }

// SetPower implements Controller.
func (m *MQTT) SetPower(ctx context.Context, device string, on bool) error {
	return m.pub.Publish(ctx, mqtt.SetTopic(m.prefix, device), mqtt.StatePayload(on), false)
}
