// Package lights executes the control_lights capability. A Switch maps
// configured locations to backend device identifiers and drives one
// Controller, chosen once at start-up: a Philips Hue bridge, Home
// Assistant, an MQTT broker, or a simulated backend that only logs.
package lights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/majordomo/internal/capability"
)

// Controller switches a single device on or off.
type Controller interface {
	// SetPower switches device. The device string is backend-specific:
	// a Hue light name or id, a Home Assistant entity_id, or an MQTT
	// friendly name.
	SetPower(ctx context.Context, device string, on bool) error
	// Name identifies the backend in logs and health output.
	Name() string
}

// Switch resolves locations and forwards commands to a Controller.
type Switch struct {
	ctrl    Controller
	devices map[string]string
	logger  *slog.Logger
}

// NewSwitch creates a Switch. devices maps upper-case location keys
// (LIVING_ROOM) to device identifiers.
func NewSwitch(ctrl Controller, devices map[string]string, logger *slog.Logger) *Switch {
	if logger == nil {
		logger = slog.Default()
	}
	d := make(map[string]string, len(devices))
	for k, v := range devices {
		d[strings.ToUpper(k)] = v
	}
	return &Switch{ctrl: ctrl, devices: d, logger: logger}
}

// Backend returns the controller's name.
func (s *Switch) Backend() string { return s.ctrl.Name() }

// Invoke implements [capability.Invoker] for control_lights. Arguments
// are expected to be validated and normalized already.
func (s *Switch) Invoke(ctx context.Context, args capability.Args) (string, error) {
	location := args.String("location")
	action := args.String("action")

	device, ok := s.devices[location]
	if !ok {
		return "", fmt.Errorf("no light configured for location %q", location)
	}

	var on bool
	switch action {
	case "ON":
		on = true
	case "OFF":
	default:
		return "", fmt.Errorf("unsupported light action %q", action)
	}

	if err := s.ctrl.SetPower(ctx, device, on); err != nil {
		return "", fmt.Errorf("%s backend: %w", s.ctrl.Name(), err)
	}
	s.logger.Info("light switched",
		"backend", s.ctrl.Name(),
		"location", location,
		"device", device,
		"on", on,
	)
	return fmt.Sprintf("%s light set to %s.", location, action), nil
}
