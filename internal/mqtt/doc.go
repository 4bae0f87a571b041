// Package mqtt manages the broker connection used by the mqtt light
// backend. Commands follow the Zigbee2MQTT convention: a JSON state
// payload published to <prefix>/<device>/set.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a birth message ("online") to the
// availability topic. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects.
package mqtt
