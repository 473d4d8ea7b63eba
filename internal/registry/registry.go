// Package registry holds the immutable set of named connections.
package registry

import (
	"errors"
	"fmt"

	"github.com/pgkeeper/pgkeeper/internal/models"
)

// ErrUnknownConnection is returned when a connection name is not configured.
var ErrUnknownConnection = errors.New("unknown connection")

// Registry provides lookup over the connection set loaded at startup. It is
// constructed once and never mutated, so tests can build distinct registries
// per case instead of sharing process-wide state.
type Registry struct {
	byName map[string]models.ConnectionConfig
	order  []string
}

// New builds a registry from the parsed configuration. Names must be unique.
func New(conns []models.ConnectionConfig) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]models.ConnectionConfig, len(conns)),
		order:  make([]string, 0, len(conns)),
	}
	for _, c := range conns {
		if c.Name == "" {
			return nil, fmt.Errorf("connection with empty name")
		}
		if _, exists := r.byName[c.Name]; exists {
			return nil, fmt.Errorf("duplicate connection name %q", c.Name)
		}
		r.byName[c.Name] = c
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

// Get returns the connection with the given name.
func (r *Registry) Get(name string) (models.ConnectionConfig, error) {
	c, ok := r.byName[name]
	if !ok {
		return models.ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return c, nil
}

// List returns all connections in configuration order.
func (r *Registry) List() []models.ConnectionConfig {
	out := make([]models.ConnectionConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
