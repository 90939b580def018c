package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/presentation/graph"
	"github.com/aretw0/pergola/internal/presentation/tui"
	loamAdapter "github.com/aretw0/pergola/pkg/adapters/loam"
	"github.com/aretw0/pergola/pkg/domain"
)

// PeersOptions configures the catalog listing.
type PeersOptions struct {
	ConfigPath string
	Graph      bool
	JSON       bool
}

// RunPeers prints the peer catalog: rendered markdown by default, a Mermaid
// topology with Graph, raw JSON with JSON.
func RunPeers(opts PeersOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Catalog.Path == "" {
		printSystemMessage("No catalog configured.")
		return nil
	}

	catalog, err := loamAdapter.Open(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	manifests, err := catalog.List(context.Background())
	if err != nil {
		return err
	}

	switch {
	case opts.Graph:
		fmt.Print(graph.GenerateMermaid(manifests, nil))

	case opts.JSON:
		data, err := json.MarshalIndent(manifests, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))

	default:
		if len(manifests) == 0 {
			printSystemMessage("No peer manifests at '%s'.", cfg.Catalog.Path)
			return nil
		}
		markdown := manifestMarkdown(manifests)
		out, err := tui.NewRenderer("")(markdown)
		if err != nil {
			// Plain markdown still reads fine without a terminal.
			out = markdown
		}
		fmt.Print(out)
	}
	return nil
}

func manifestMarkdown(manifests []domain.Manifest) string {
	var sb strings.Builder
	for i, m := range manifests {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		title := m.Title
		if title == "" {
			title = m.ID
		}
		fmt.Fprintf(&sb, "# %s (`%s`)\n\n", title, m.ID)
		fmt.Fprintf(&sb, "- Origin: %s\n", m.Origin)
		if m.EmbedURL != "" {
			fmt.Fprintf(&sb, "- Embed URL: %s\n", m.EmbedURL)
		}
		if len(m.Families) > 0 {
			entries := make([]string, len(m.Families))
			for j, f := range m.Families {
				entries[j] = f.Name
				if f.Timeout != "" {
					entries[j] += " (" + f.Timeout + ")"
				}
			}
			fmt.Fprintf(&sb, "- Families: %s\n", strings.Join(entries, ", "))
		}
		if m.Description != "" {
			sb.WriteString("\n" + strings.TrimSpace(m.Description) + "\n")
		}
	}
	return sb.String()
}
