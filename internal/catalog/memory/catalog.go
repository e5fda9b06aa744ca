// Package memory serves a poster catalog from memory, optionally seeded from
// a YAML file.
package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

// Seed is the YAML document shape.
type Seed struct {
	Resources []SeedResource `yaml:"resources"`
}

// SeedResource is one catalog entry in a seed file.
type SeedResource struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	URL     string `yaml:"url"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Quality int    `yaml:"quality"`
	Eager   bool   `yaml:"eager"`
}

// Catalog is a thread-safe in-memory poster.Catalog.
type Catalog struct {
	mu   sync.RWMutex
	refs []poster.ResourceRef
}

// New returns a Catalog holding refs in order.
func New(refs ...poster.ResourceRef) *Catalog {
	return &Catalog{refs: append([]poster.ResourceRef(nil), refs...)}
}

// Load decodes a YAML seed.
func Load(r io.Reader) (*Catalog, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	refs := make([]poster.ResourceRef, 0, len(seed.Resources))
	seen := make(map[string]int, len(seed.Resources))
	for i, res := range seed.Resources {
		id := res.ID
		if id == "" {
			id = fmt.Sprintf("r%d", i+1)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("catalog seed: resource %d reuses id %q from resource %d", i+1, id, prev+1)
		}
		seen[id] = i
		refs = append(refs, poster.ResourceRef{
			ID:        id,
			Title:     res.Title,
			OriginURL: res.URL,
			Hint:      poster.DisplayHint{Width: res.Width, Height: res.Height, Quality: res.Quality},
			Eager:     res.Eager,
		})
	}
	return New(refs...), nil
}

// LoadFile reads a YAML seed from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog seed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// ListResources implements poster.Catalog.
func (c *Catalog) ListResources(context.Context) ([]poster.ResourceRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]poster.ResourceRef(nil), c.refs...), nil
}

// Replace swaps the catalog contents.
func (c *Catalog) Replace(refs []poster.ResourceRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append([]poster.ResourceRef(nil), refs...)
}
