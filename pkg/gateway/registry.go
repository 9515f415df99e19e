package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// BackendConfig carries the credentials and endpoint read once at startup.
type BackendConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Config holds provider-specific settings (e.g. canned responses for static).
	Config json.RawMessage

	// HTTPClient is optional; backends fall back to their own client.
	HTTPClient *http.Client
}

// BackendFactory creates a backend from configuration
type BackendFactory func(cfg BackendConfig) (Backend, error)

var (
	registry = make(map[string]BackendFactory)
	mu       sync.RWMutex
)

// RegisterBackend registers a backend factory under a provider name
func RegisterBackend(provider string, factory BackendFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[provider] = factory
}

// NewBackend creates the backend registered under provider
func NewBackend(provider string, cfg BackendConfig) (Backend, error) {
	mu.RLock()
	factory, ok := registry[provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
	return factory(cfg)
}

// ListBackends returns registered provider names
func ListBackends() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
