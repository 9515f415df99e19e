package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultProvider is used when no persistence type is configured.
const DefaultProvider = "memory"

// ErrUnknownProvider is returned by NewPersistence for unregistered types.
var ErrUnknownProvider = errors.New("unknown persistence provider")

// ProviderConfig selects a store type and carries its raw settings.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig is what a store factory receives.
type PluginConfig struct {
	// Config is the provider's raw settings, copied from ProviderConfig.
	Config json.RawMessage

	// Timezone stamps records; NewPersistence defaults it to UTC.
	Timezone *time.Location

	// RunRetention bounds how long run history is kept; zero keeps it forever.
	RunRetention time.Duration
}

type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	mu        sync.RWMutex
	factories = map[string]PluginFactory{}
)

// RegisterProvider makes a store type available to NewPersistence.
// Stores register from init; a later registration replaces an earlier one.
func RegisterProvider(providerType string, factory PluginFactory) {
	name := strings.ToLower(strings.TrimSpace(providerType))
	if name == "" || factory == nil {
		panic("persistence: RegisterProvider needs a type and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// NewPersistence opens the store selected by providerConfig.Type.
func NewPersistence(providerConfig ProviderConfig, pluginConfig PluginConfig) (PluginPersistence, error) {
	name := strings.ToLower(strings.TrimSpace(providerConfig.Type))
	if name == "" {
		name = DefaultProvider
	}
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProvider, providerConfig.Type, strings.Join(ListProviders(), ", "))
	}

	pluginConfig.Config = providerConfig.Config
	if pluginConfig.Timezone == nil {
		pluginConfig.Timezone = time.UTC
	}
	if pluginConfig.RunRetention < 0 {
		pluginConfig.RunRetention = 0
	}
	store, err := factory(pluginConfig)
	if err != nil {
		return nil, fmt.Errorf("persistence provider %s: %w", name, err)
	}
	return store, nil
}

// ListProviders returns the registered store types in name order.
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
