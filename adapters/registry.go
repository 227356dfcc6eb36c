package adapters

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/brettbedarf/ramfs"
)

// Factory builds a content source from its raw JSON manifest entry
type Factory func(raw []byte) (ramfs.ContentSource, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register ties a JSON‐raw factory to a “type” key and should be called for each
// source type during app init. A later registration for the same type wins.
func Register(sourceType string, factory Factory) {
	mu.Lock()
	factories[sourceType] = factory
	mu.Unlock()
}

// NewSource picks the right factory based on the "type" field.
// All expected source types should be registered with [Register]
// before calling this function.
func NewSource(raw []byte) (ramfs.ContentSource, error) {
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	if meta.Type == "" {
		return nil, fmt.Errorf("source has no type")
	}
	mu.RLock()
	f, ok := factories[meta.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory for %q", meta.Type)
	}
	return f(raw)
}
