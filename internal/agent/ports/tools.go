package ports

import (
	"context"
	"encoding/json"
	"maps"
)

// ToolCall is a request from the model to invoke a named capability.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// ArgumentsError is set when the model's arguments could not be decoded.
	// Arguments is then empty and the call is answered without executing it.
	ArgumentsError string `json:"arguments_error,omitempty"`
}

// Clone returns a copy with its own argument map.
func (c ToolCall) Clone() ToolCall {
	out := c
	if c.Arguments != nil {
		out.Arguments = maps.Clone(c.Arguments)
	}
	return out
}

// ArgumentsJSON renders the arguments as a JSON object string.
func (c ToolCall) ArgumentsJSON() string {
	if len(c.Arguments) == 0 {
		return "{}"
	}
	data, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// StringArg returns the string argument named key.
func (c ToolCall) StringArg(key string) (string, bool) {
	v, ok := c.Arguments[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ToolResult is what a capability returns for one call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	Error   error  `json:"-"`
}

// ToolDefinition describes a capability to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema is a JSON-schema object describing tool arguments.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one argument of a tool.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Capability is a named, described operation the model may invoke.
// Implementations must be safe for concurrent use.
type Capability interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// CapabilityRegistry resolves capabilities by name. It is fixed once built.
type CapabilityRegistry interface {
	Get(name string) (Capability, bool)
	Definitions() []ToolDefinition
}
