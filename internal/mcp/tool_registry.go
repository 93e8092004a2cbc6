package mcp

import (
	"fmt"
	"sort"
	"strings"
)

type registryItem struct {
	executor ToolExecutor
	tool     ToolDescriptor
}

// ToolRegistry maps tool names to the executor that owns them.
type ToolRegistry struct {
	items map[string]registryItem
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{items: map[string]registryItem{}}
}

func (r *ToolRegistry) Register(executor ToolExecutor, tool ToolDescriptor) error {
	if executor == nil {
		return fmt.Errorf("tool executor is required")
	}
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	if tool.InputSchema == nil {
		tool.InputSchema = ObjectSchema(nil)
	}
	tool.Name = name
	r.items[name] = registryItem{executor: executor, tool: tool}
	return nil
}

func (r *ToolRegistry) Lookup(name string) (ToolExecutor, bool) {
	item, ok := r.items[strings.TrimSpace(name)]
	return item.executor, ok
}

// List returns descriptors sorted by name.
func (r *ToolRegistry) List() []ToolDescriptor {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]ToolDescriptor, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.items[name].tool)
	}
	return tools
}

// ObjectSchema builds a JSON schema object from property schemas.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Prop is a shorthand for a typed, described schema property.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
