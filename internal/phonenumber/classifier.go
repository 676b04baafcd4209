// Package phonenumber classifies dialed numbers against the local numbering
// plan.
package phonenumber

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SettingEmergencyNumbers is the settings key holding the comma-separated
// emergency number list.
const SettingEmergencyNumbers = "emergency_numbers"

// DefaultEmergencyNumbers is used when no list is configured.
var DefaultEmergencyNumbers = []string{"112", "911"}

// SettingsReader reads one value from the shared settings store. A missing
// key reads as the empty string.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Classifier decides whether a number may be an emergency number.
type Classifier struct {
	mu      sync.RWMutex
	numbers []string
}

// NewClassifier creates a classifier for the given numbers, or the defaults
// if none are given.
func NewClassifier(numbers ...string) *Classifier {
	c := &Classifier{}
	c.SetNumbers(numbers)
	return c
}

// SetNumbers replaces the emergency number list. Empty entries are dropped;
// an empty list restores the defaults.
func (c *Classifier) SetNumbers(numbers []string) {
	cleaned := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if n = Strip(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultEmergencyNumbers...)
	}

	c.mu.Lock()
	c.numbers = cleaned
	c.mu.Unlock()
}

// Numbers returns a copy of the emergency number list.
func (c *Classifier) Numbers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.numbers...)
}

// Load reads the emergency number list from settings. An unset key keeps
// the current list.
func (c *Classifier) Load(ctx context.Context, settings SettingsReader) error {
	value, err := settings.Get(ctx, SettingEmergencyNumbers)
	if err != nil {
		return fmt.Errorf("loading %s: %w", SettingEmergencyNumbers, err)
	}
	if strings.TrimSpace(value) == "" {
		return nil
	}
	c.SetNumbers(ParseList(value))
	return nil
}

// IsPotentialEmergencyNumber reports whether number starts with an
// emergency number once separators are removed. SIP addresses never match.
func (c *Classifier) IsPotentialEmergencyNumber(number string) bool {
	if number == "" || strings.Contains(number, "@") || strings.Contains(number, "%40") {
		return false
	}
	stripped := Strip(number)
	if stripped == "" {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range c.numbers {
		if strings.HasPrefix(stripped, n) {
			return true
		}
	}
	return false
}

// ParseList splits a comma-separated number list.
func ParseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Strip removes visual separators from a dial string.
func Strip(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, number)
}
