package provider

import (
	"slices"
	"sync"
)

// Registry maps tool names to the connection that owns them. When two
// providers publish the same tool name, the provider registered first owns
// it; the later one is shadowed until the first is removed.
//
// Only a Manager mutates a Registry.
type Registry struct {
	mu     sync.RWMutex
	order  []*Connection
	owners map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]*Connection)}
}

// FindOwner returns the connection that owns tool.
func (r *Registry) FindOwner(tool string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.owners[tool]
	return conn, ok
}

// DescribeAll lists every reachable tool: providers in registration
// order, tools in the order each provider reported them. Shadowed
// duplicates are left out.
func (r *Registry) DescribeAll() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ToolDescriptor
	for _, conn := range r.order {
		for _, tool := range conn.tools {
			if r.owners[tool.Name] == conn {
				out = append(out, tool)
			}
		}
	}
	return out
}

// Providers returns registered provider names in registration order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, conn := range r.order {
		names = append(names, conn.name)
	}
	return names
}

// Shadowed returns tool names a connection publishes but does not own.
func (r *Registry) Shadowed(conn *Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, tool := range conn.tools {
		if owner, ok := r.owners[tool.Name]; ok && owner != conn {
			out = append(out, tool.Name)
		}
	}
	return out
}

// Len is the number of reachable tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) publish(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.order, conn) {
		return
	}
	r.order = append(r.order, conn)
	for _, tool := range conn.tools {
		if _, taken := r.owners[tool.Name]; !taken {
			r.owners[tool.Name] = conn
		}
	}
}

func (r *Registry) unpublish(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.order, conn)
	if idx < 0 {
		return
	}
	r.order = slices.Delete(r.order, idx, idx+1)

	// Rebuild so tools shadowed by conn fall to the next provider in order.
	r.owners = make(map[string]*Connection, len(r.owners))
	for _, remaining := range r.order {
		for _, tool := range remaining.tools {
			if _, taken := r.owners[tool.Name]; !taken {
				r.owners[tool.Name] = remaining
			}
		}
	}
}
