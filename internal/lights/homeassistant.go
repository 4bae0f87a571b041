package lights

import (
	"context"

	"github.com/nugget/majordomo/internal/homeassistant"
)

// ServiceCaller is the part of the Home Assistant client the backend
// uses.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// HomeAssistant switches entities through Home Assistant services.
type HomeAssistant struct {
	client ServiceCaller
}

// NewHomeAssistant creates a Home Assistant controller.
func NewHomeAssistant(client ServiceCaller) *HomeAssistant {
	return &HomeAssistant{client: client}
}

// Name implements Controller.
func (h *HomeAssistant) Name() string { return "homeassistant" }

// SetPower implements Controller. device is an entity_id; a bare name
// is taken to be in the light domain.
func (h *HomeAssistant) SetPower(ctx context.Context, device string, on bool) error {
	domain := homeassistant.Domain(device)
	if domain == "" {
		domain = "light"
		device = "light." + device
	}
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	return h.client.CallService(ctx, domain, service, map[string]any{"entity_id": device})
}
