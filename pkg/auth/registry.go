package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProvider is returned by NewValidator for unregistered types.
var ErrUnknownProvider = errors.New("unknown auth provider")

// ProviderConfig selects a validator type and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory builds a validator from the provider's raw settings.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	mu        sync.RWMutex
	factories = map[string]ValidatorFactory{}
)

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// RegisterProvider makes a validator type available to NewValidator.
// Providers register from init; a later registration replaces an earlier one.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	name := normalizeType(providerType)
	if name == "" || factory == nil {
		panic("auth: RegisterProvider needs a type and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// NewValidator builds the validator selected by cfg.Type.
func NewValidator(cfg ProviderConfig) (Validator, error) {
	name := normalizeType(cfg.Type)
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProvider, cfg.Type, strings.Join(ListProviders(), ", "))
	}

	v, err := factory(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return v, nil
}

// ListProviders returns the registered validator types in name order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
