package enrichment

import (
	"strings"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Capabilities lists what can run for one item type.
type Capabilities struct {
	Locals  []metadata.Source
	Agents  []metadata.Agent
	Artwork []artwork.Provider
}

// Registry maps item types to their sources and owns the merge priority.
// It is built once at startup and read concurrently afterwards.
type Registry struct {
	byType     map[models.ItemType]*Capabilities
	priority   []string
	registered []string
	agents     map[string]bool
}

// NewRegistry creates a registry whose merge order starts with priority.
// Names registered later but missing from priority rank after it, in
// registration order. An empty priority means sidecar, then agents in
// registration order, then embedded.
func NewRegistry(priority []string) *Registry {
	r := &Registry{
		byType: make(map[models.ItemType]*Capabilities),
		agents: make(map[string]bool),
	}
	seen := make(map[string]bool)
	for _, name := range priority {
		key := normalizeName(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		r.priority = append(r.priority, key)
	}
	return r
}

// Register adds capabilities for one or more item types.
func (r *Registry) Register(caps Capabilities, types ...models.ItemType) {
	for _, t := range types {
		c := r.byType[t]
		if c == nil {
			c = &Capabilities{}
			r.byType[t] = c
		}
		c.Locals = append(c.Locals, caps.Locals...)
		c.Agents = append(c.Agents, caps.Agents...)
		c.Artwork = append(c.Artwork, caps.Artwork...)
	}
	for _, s := range caps.Locals {
		r.remember(s.Name())
	}
	for _, a := range caps.Agents {
		r.remember(a.Name())
		r.agents[normalizeName(a.Name())] = true
	}
	for _, p := range caps.Artwork {
		r.remember(p.Name())
	}
}

func (r *Registry) remember(name string) {
	key := normalizeName(name)
	for _, n := range r.registered {
		if n == key {
			return
		}
	}
	r.registered = append(r.registered, key)
}

// For returns the capabilities registered for t. The result must not be modified.
func (r *Registry) For(t models.ItemType) Capabilities {
	if c := r.byType[t]; c != nil {
		return *c
	}
	return Capabilities{}
}

// Order returns the full merge order. A library's agent order rearranges the
// agents among the positions agents already hold, so local sources keep
// their places.
func (r *Registry) Order(library *models.Library) []string {
	order := append([]string(nil), r.priority...)
	if len(order) == 0 {
		order = append(order, metadata.SourceSidecar)
		for _, name := range r.registered {
			if r.agents[name] {
				order = append(order, name)
			}
		}
		order = append(order, metadata.SourceEmbedded)
	}
	for _, name := range r.registered {
		if !contains(order, name) {
			order = append(order, name)
		}
	}
	if library == nil || len(library.AgentOrder) == 0 {
		return order
	}

	var preferred []string
	for _, name := range library.AgentOrder {
		key := normalizeName(name)
		if r.agents[key] && !contains(preferred, key) {
			preferred = append(preferred, key)
		}
	}
	var positions []int
	var rest []string
	for i, name := range order {
		if r.agents[name] {
			positions = append(positions, i)
			if !contains(preferred, name) {
				rest = append(rest, name)
			}
		}
	}
	agents := append(preferred, rest...)
	for i, pos := range positions {
		order[pos] = agents[i]
	}
	return order
}

// Rank returns the position of name in order; unknown names rank last.
func Rank(order []string, name string) int {
	key := normalizeName(name)
	for i, n := range order {
		if n == key {
			return i
		}
	}
	return len(order)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
