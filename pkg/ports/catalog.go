package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// Catalog defines how the hub retrieves peer manifests.
// This allows the storage layer (Loam, FS, Memory) to be decoupled.
type Catalog interface {
	// Get retrieves one manifest by peer ID.
	Get(ctx context.Context, id string) (domain.Manifest, error)

	// List returns all manifests in the catalog.
	List(ctx context.Context) ([]domain.Manifest, error)
}

// Watchable defines an interface for catalogs that can notify about backend
// changes. This is typically used for hot-reload or dev-mode functionality.
type Watchable interface {
	// Watch returns a channel that is signaled when the underlying catalog
	// changes. It abstracts away the specific event details, signaling only
	// that a re-sync is required.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
