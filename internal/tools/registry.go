// Package tools registers the named callables the interrogator loop can
// dispatch, and renders their descriptors for the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Handler executes one tool invocation. Failures are reported as errors; the
// loop converts them to string results rather than surfacing them.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool couples registration metadata with its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry holds registered tools. It is populated at startup and read-only
// afterwards, so lookups need no locking.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is a programming error.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Descriptors returns the machine-readable tool list in registration order.
func (r *Registry) Descriptors() []ToolDescriptorView {
	out := make([]ToolDescriptorView, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		out = append(out, ToolDescriptorView{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return out
}

// ToolDescriptorView is the JSON shape embedded in descriptors and prompts.
type ToolDescriptorView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SystemPrompt renders the teaching prompt that instructs a model without
// native function calling to emit the USE_TOOLS JSON envelope. The text is
// identical across requests except for the embedded descriptor JSON and the
// optional enforcement clause for a pinned tool.
func (r *Registry) SystemPrompt(pinnedTool string) (string, error) {
	descriptors, err := json.MarshalIndent(r.Descriptors(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool descriptors: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("You can invoke external tools to answer the user.\n")
	sb.WriteString("The available tools are described by the following JSON list:\n\n")
	sb.Write(descriptors)
	sb.WriteString("\n\n")
	sb.WriteString("When you decide to use tools, respond with ONLY a single JSON object ")
	sb.WriteString("of this exact shape and nothing else:\n\n")
	sb.WriteString(`{"intention": "USE_TOOLS", "thoughts": "<why you need the tools>", ` +
		`"tools": [{"name": "<tool name>", "arguments": {<parameters>}, "id": "<unique id>"}]}` + "\n\n")
	sb.WriteString("Each entry in \"tools\" runs once and its result is returned to you ")
	sb.WriteString("in a follow-up message. When no tool is needed, answer normally without JSON.\n")
	if pinnedTool != "" {
		if _, ok := r.tools[pinnedTool]; !ok {
			return "", fmt.Errorf("pinned tool %s is not registered", pinnedTool)
		}
		fmt.Fprintf(&sb, "You MUST invoke the tool %q to answer this request.\n", pinnedTool)
	}
	return sb.String(), nil
}
