// Package catalog holds the configured list of upstream models offered to clients.
package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/harun/chatrelay/internal/observability"
)

// Model is one catalog entry
type Model struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
}

// Catalog is a thread-safe, replaceable model list
type Catalog struct {
	mu     sync.RWMutex
	models []Model
	index  map[string]int
}

// Defaults returns the built-in model list
func Defaults() []Model {
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", Description: "Capable general-purpose model"},
		{ID: "gemini-2.5-pro-exp-03-25", Name: "gemini 2.5 pro exp 03-25", Description: "Chain-of-thought reasoning model"},
	}
}

// New creates a catalog from models; see Replace for validation rules
func New(models []Model) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(models); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the model list. Ids must be non-empty and unique; a missing name defaults to the id.
func (c *Catalog) Replace(models []Model) error {
	next := make([]Model, 0, len(models))
	index := make(map[string]int, len(models))
	for i, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return fmt.Errorf("model %d: id is required", i)
		}
		if _, dup := index[m.ID]; dup {
			return fmt.Errorf("model %q listed more than once", m.ID)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		index[m.ID] = len(next)
		next = append(next, m)
	}

	c.mu.Lock()
	c.models = next
	c.index = index
	c.mu.Unlock()

	observability.SetCatalogModels(len(next))
	return nil
}

// List returns a copy of the models in configured order
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// Get looks up a model by id
func (c *Catalog) Get(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[id]
	if !ok {
		return Model{}, false
	}
	return c.models[i], true
}

// Contains reports whether id is in the catalog
func (c *Catalog) Contains(id string) bool {
	_, ok := c.Get(id)
	return ok
}
