package sim

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/flowpbx/telephony/internal/phone"
)

// Inventory describes the simulated slots loaded from a YAML file.
type Inventory struct {
	DefaultSlot int        `yaml:"default_slot"`
	Phones      []SlotSpec `yaml:"phones"`
}

// SlotSpec describes one simulated voice stack.
type SlotSpec struct {
	Slot                  int    `yaml:"slot"`
	Type                  string `yaml:"type"`
	SubscriptionID        int64  `yaml:"subscription_id"`
	VoiceMail             string `yaml:"voicemail"`
	ServiceState          string `yaml:"service_state"`
	EmergencyCallbackMode bool   `yaml:"emergency_callback_mode"`
	RadioOnDelay          string `yaml:"radio_on_delay"`
	RadioFails            bool   `yaml:"radio_fails"`
	AutoAnswer            string `yaml:"auto_answer_after"`
}

// DefaultInventory is used when no inventory file is configured: a single
// in-service GSM slot on subscription 1.
func DefaultInventory() *Inventory {
	return &Inventory{
		Phones: []SlotSpec{{
			Slot:           0,
			Type:           "gsm",
			SubscriptionID: 1,
			ServiceState:   "in_service",
		}},
	}
}

// LoadInventory reads and validates a YAML slot inventory.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	if err := inv.validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	if len(inv.Phones) == 0 {
		return fmt.Errorf("no phones defined")
	}

	slots := make(map[int]bool)
	subs := make(map[int64]bool)
	for _, spec := range inv.Phones {
		if slots[spec.Slot] {
			return fmt.Errorf("duplicate slot %d", spec.Slot)
		}
		slots[spec.Slot] = true

		if spec.SubscriptionID != 0 {
			if subs[spec.SubscriptionID] {
				return fmt.Errorf("duplicate subscription_id %d", spec.SubscriptionID)
			}
			subs[spec.SubscriptionID] = true
		}

		if _, err := phone.ParseType(spec.Type); err != nil {
			return fmt.Errorf("slot %d: %w", spec.Slot, err)
		}
		if spec.ServiceState != "" {
			if _, err := phone.ParseServiceState(spec.ServiceState); err != nil {
				return fmt.Errorf("slot %d: %w", spec.Slot, err)
			}
		}
		for name, val := range map[string]string{"radio_on_delay": spec.RadioOnDelay, "auto_answer_after": spec.AutoAnswer} {
			if val == "" {
				continue
			}
			if _, err := time.ParseDuration(val); err != nil {
				return fmt.Errorf("slot %d: %s: %w", spec.Slot, name, err)
			}
		}
	}

	if !slots[inv.DefaultSlot] {
		return fmt.Errorf("default_slot %d is not defined", inv.DefaultSlot)
	}
	return nil
}

// Build creates the simulated phones described by the inventory. Phones are
// created with asynchronous event delivery when async is true.
func (inv *Inventory) Build(logger *slog.Logger, async bool) ([]*Phone, error) {
	phones := make([]*Phone, 0, len(inv.Phones))
	for _, spec := range inv.Phones {
		typ, err := phone.ParseType(spec.Type)
		if err != nil {
			return nil, err
		}

		opts := []Option{
			WithVoiceMailNumber(spec.VoiceMail),
			WithEmergencyCallbackMode(spec.EmergencyCallbackMode),
		}
		if spec.ServiceState != "" {
			st, err := phone.ParseServiceState(spec.ServiceState)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithServiceState(st))
		}
		if spec.RadioOnDelay != "" {
			d, _ := time.ParseDuration(spec.RadioOnDelay)
			opts = append(opts, WithRadioOnDelay(d))
		}
		if spec.RadioFails {
			opts = append(opts, WithRadioFailure())
		}
		if spec.AutoAnswer != "" {
			d, _ := time.ParseDuration(spec.AutoAnswer)
			opts = append(opts, WithAutoAnswer(d))
		}
		if async {
			opts = append(opts, WithAsyncEvents())
		}

		phones = append(phones, New(spec.Slot, typ, logger, opts...))
	}
	return phones, nil
}
