// Package toolregistry holds the fixed set of capabilities the assistant may
// invoke. The set is decided when the registry is built and never changes.
package toolregistry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"souschef/internal/agent/ports"
)

// validName mirrors the function-name constraint of OpenAI-compatible APIs.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Registry is an immutable name → capability map.
type Registry struct {
	capabilities map[string]ports.Capability
	definitions  []ports.ToolDefinition
}

var _ ports.CapabilityRegistry = (*Registry)(nil)

// New builds a registry from caps. Names must be valid and unique.
func New(caps ...ports.Capability) (*Registry, error) {
	r := &Registry{capabilities: make(map[string]ports.Capability, len(caps))}
	for _, capability := range caps {
		if capability == nil {
			return nil, fmt.Errorf("nil capability")
		}
		def := capability.Definition()
		name := strings.TrimSpace(def.Name)
		if !validName.MatchString(name) {
			return nil, fmt.Errorf("invalid capability name %q", def.Name)
		}
		if _, exists := r.capabilities[name]; exists {
			return nil, fmt.Errorf("capability %q registered twice", name)
		}
		if def.Parameters.Type == "" {
			def.Parameters.Type = "object"
		}
		r.capabilities[name] = capability
		r.definitions = append(r.definitions, def)
	}
	sort.Slice(r.definitions, func(i, j int) bool { return r.definitions[i].Name < r.definitions[j].Name })
	return r, nil
}

// MustNew is New for static wiring; it panics on error.
func MustNew(caps ...ports.Capability) *Registry {
	r, err := New(caps...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (ports.Capability, bool) {
	capability, ok := r.capabilities[name]
	return capability, ok
}

// Definitions returns the tool definitions sorted by name.
func (r *Registry) Definitions() []ports.ToolDefinition {
	out := make([]ports.ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

// Names returns the registered names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for _, def := range r.definitions {
		names = append(names, def.Name)
	}
	return names
}
