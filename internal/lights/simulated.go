package lights

import (
	"context"
	"log/slog"
	"sync"
)

// Simulated records commands without touching hardware.
type Simulated struct {
	logger *slog.Logger

	mu    sync.Mutex
	state map[string]bool
}

// NewSimulated creates a simulated controller.
func NewSimulated(logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{logger: logger, state: make(map[string]bool)}
}

// Name implements Controller.
func (s *Simulated) Name() string { return "simulated" }

// SetPower implements Controller.
func (s *Simulated) SetPower(ctx context.Context, device string, on bool) error {
	s.mu.Lock()
	s.state[device] = on
	s.mu.Unlock()
	s.logger.Info("simulated light command", "device", device, "on", on)
	return nil
}

// State reports the last commanded state of device.
func (s *Simulated) State(device string) (on, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on, known = s.state[device]
	return on, known
}
