// Package cli carries the shared wiring behind the pergola commands:
// configuration-driven hub assembly, transport composition, and the
// terminal rendering of catalog manifests.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/config"
	loamAdapter "github.com/aretw0/pergola/pkg/adapters/loam"
	"github.com/aretw0/pergola/pkg/ports"
)

// buildHub initializes a hub with standard CLI conventions: the logger,
// the configured origin set, timing overrides, and the manifest catalog
// when one is configured. Extra options apply last so callers can layer
// hooks on top.
func buildHub(cfg config.Config, logger *slog.Logger, feed ports.Feed, extra ...pergola.Option) (*pergola.Hub, error) {
	opts := []pergola.Option{pergola.WithLogger(logger)}

	if cfg.HostOrigin != "" {
		opts = append(opts, pergola.WithHostOrigin(cfg.HostOrigin))
	}
	if len(cfg.Origins) > 0 {
		opts = append(opts, pergola.WithOrigins(cfg.Origins...))
	}

	settle, err := cfg.ParseSettleDelay()
	if err != nil {
		return nil, err
	}
	if settle > 0 {
		opts = append(opts, pergola.WithSettleDelay(settle))
	}

	timeout, err := cfg.ParseCallTimeout()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		opts = append(opts, pergola.WithCallTimeout(timeout))
	}

	families, err := cfg.FamilyTimeouts()
	if err != nil {
		return nil, err
	}
	for family, d := range families {
		opts = append(opts, pergola.WithFamilyTimeout(family, d))
	}

	if cfg.Catalog.Path != "" {
		catalog, err := loamAdapter.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("opening catalog: %w", err)
		}
		opts = append(opts, pergola.WithCatalog(catalog))
	}

	opts = append(opts, extra...)

	hub, err := pergola.New(feed, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing hub: %w", err)
	}
	return hub, nil
}
