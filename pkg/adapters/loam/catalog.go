// Package loam adapts a Loam document repository to the peer catalog port.
// Each markdown document is one peer manifest: frontmatter holds identity
// and origin, the body holds the human description.
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Catalog implements ports.Catalog over a Loam repository.
type Catalog struct {
	Repo *loam.TypedRepository[ManifestMetadata]
}

// New creates a catalog from an existing typed repository.
func New(repo *loam.TypedRepository[ManifestMetadata]) *Catalog {
	return &Catalog{
		Repo: repo,
	}
}

// Open initializes a read-only catalog at the given directory.
func Open(path string) (*Catalog, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	// Strict mode keeps numeric frontmatter types consistent across the
	// JSON and Markdown/YAML adapters; the catalog never writes.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}

	return New(loam.NewTypedRepository[ManifestMetadata](repo)), nil
}

// Get implements ports.Catalog.
func (c *Catalog) Get(ctx context.Context, id string) (domain.Manifest, error) {
	doc, err := c.Repo.Get(ctx, id)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: manifest %s: %v", domain.ErrPeerNotFound, id, err)
	}
	return toManifest(doc.ID, doc.Data, doc.Content), nil
}

// List implements ports.Catalog. Manifest IDs must be unique across the
// repository regardless of file extension.
func (c *Catalog) List(ctx context.Context) ([]domain.Manifest, error) {
	docs, err := c.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	manifests := make([]domain.Manifest, 0, len(docs))

	for _, doc := range docs {
		m := toManifest(doc.ID, doc.Data, doc.Content)
		if existingPath, ok := seen[m.ID]; ok {
			return nil, fmt.Errorf("collision detected: manifest '%s' is defined in both '%s' and '%s'", m.ID, existingPath, doc.ID)
		}
		seen[m.ID] = doc.ID
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Watch implements ports.Watchable. One signal may cover several file
// events: a pending signal already forces a full re-sync.
func (c *Catalog) Watch(ctx context.Context) (<-chan struct{}, error) {
	events, err := c.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch, nil
}

func toManifest(docID string, meta ManifestMetadata, content string) domain.Manifest {
	id := meta.ID
	if id == "" {
		id = docID
	}

	families := make([]domain.Family, 0, len(meta.Families))
	for _, f := range meta.Families {
		families = append(families, domain.Family{Name: f.Name, Timeout: f.Timeout})
	}

	return domain.Manifest{
		ID:          trimExtension(id),
		Title:       meta.Title,
		Origin:      meta.Origin,
		EmbedURL:    meta.EmbedURL,
		Families:    families,
		Description: strings.TrimSpace(content),
	}
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

var _ ports.Catalog = (*Catalog)(nil)
var _ ports.Watchable = (*Catalog)(nil)
