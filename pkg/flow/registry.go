package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/prompt"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// Contract binds a task name to its input and output schemas and its prompt.
type Contract struct {
	Name        string
	Description string
	Input       *schema.Field
	Output      *schema.Field
	Template    *prompt.Template
	// Model overrides the gateway defaults for this task only.
	Model gateway.ModelConfig
}

// Registry holds the task contracts. Writes happen at startup; reads are
// safe from any number of goroutines.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
}

func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]*Contract)}
}

// Register validates c and adds it. On any error the registry is unchanged.
func (r *Registry) Register(c Contract) error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("flow: contract name is required")
	}
	if err := checkContract(c); err != nil {
		return fmt.Errorf("flow: contract %q: %w", c.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[c.Name]; exists {
		return &DuplicateTaskError{Task: c.Name}
	}
	stored := c
	r.contracts[c.Name] = &stored
	return nil
}

func checkContract(c Contract) error {
	for _, side := range []struct {
		label string
		f     *schema.Field
	}{{"input", c.Input}, {"output", c.Output}} {
		label, f := side.label, side.f
		if f == nil {
			return fmt.Errorf("%s schema is required", label)
		}
		if f.Kind != schema.KindObject {
			return fmt.Errorf("%s schema must be an object, got %s", label, f.Kind)
		}
		if err := schema.Check(f); err != nil {
			return err
		}
	}
	if c.Template == nil {
		return errors.New("template is required")
	}
	// Templates are bound at parse time, but not necessarily to this input schema.
	for _, p := range c.Template.Placeholders() {
		if _, ok := c.Input.Lookup(strings.Split(p, ".")); !ok {
			return &prompt.ResolutionError{Placeholder: p, Reason: "not a field of the input schema"}
		}
	}
	return nil
}

func (r *Registry) Get(name string) (*Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[name]
	if !ok {
		return nil, &UnknownTaskError{Task: name}
	}
	return c, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contracts returns every contract ordered by name.
func (r *Registry) Contracts() []*Contract {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Contract, 0, len(names))
	for _, n := range names {
		if c, ok := r.contracts[n]; ok {
			out = append(out, c)
		}
	}
	return out
}
