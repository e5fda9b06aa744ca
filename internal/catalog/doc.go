// Package catalog holds helpers shared by poster.Catalog implementations.
package catalog

import (
	"context"
	"fmt"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

// Find returns the resource with id from c.
func Find(ctx context.Context, c poster.Catalog, id string) (poster.ResourceRef, bool, error) {
	refs, err := c.ListResources(ctx)
	if err != nil {
		return poster.ResourceRef{}, false, fmt.Errorf("list resources: %w", err)
	}
	for _, ref := range refs {
		if ref.ID == id {
			return ref, true, nil
		}
	}
	return poster.ResourceRef{}, false, nil
}

// MarkEager flags the first n refs as eager, the way above-the-fold posters
// are loaded without waiting to become visible.
func MarkEager(refs []poster.ResourceRef, n int) {
	for i := range refs {
		if i >= n {
			return
		}
		refs[i].Eager = true
	}
}
