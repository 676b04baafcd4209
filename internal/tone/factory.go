package tone

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// SettingEmergencyTone is the settings key selecting the emergency tone
// mode.
const SettingEmergencyTone = "emergency_tone"

// Emergency tone modes.
const (
	ModeAlert = "alert"
	ModeOff   = "off"
)

// ParseMode validates an emergency tone mode. Empty selects ModeAlert.
func ParseMode(value string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "", ModeAlert:
		return ModeAlert, nil
	case ModeOff:
		return ModeOff, nil
	default:
		return "", fmt.Errorf("unknown emergency tone mode %q", value)
	}
}

// Factory creates emergency tone players while the configured mode allows
// them. Every player writes to the same sink.
type Factory struct {
	sink   io.Writer
	logger *slog.Logger
	opts   []Option

	mu      sync.RWMutex
	enabled bool
}

// NewFactory creates a factory in alert mode.
func NewFactory(sink io.Writer, logger *slog.Logger, opts ...Option) *Factory {
	return &Factory{
		sink:    sink,
		logger:  logger,
		opts:    opts,
		enabled: true,
	}
}

// SetMode switches between ModeAlert and ModeOff.
func (f *Factory) SetMode(value string) error {
	mode, err := ParseMode(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.enabled = mode == ModeAlert
	f.mu.Unlock()
	return nil
}

// Enabled reports whether New returns players.
func (f *Factory) Enabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled
}

// New returns an emergency tone player, or nil in ModeOff.
func (f *Factory) New() *Player {
	if !f.Enabled() {
		return nil
	}
	return NewEmergencyPlayer(f.sink, f.logger, f.opts...)
}
