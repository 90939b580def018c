package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
)

// Overlay contains live bridge state to visualize on the topology.
type Overlay struct {
	AttachedPeers []string
	ReadyPeers    []string
}

// GenerateMermaid produces a Mermaid flowchart of the bridge topology: the
// hub in the center, one node per manifest, one labelled edge per operation
// family. Peers without families get a plain edge. Overlay styles mark
// attached and ready peers; ready wins when a peer is both.
func GenerateMermaid(manifests []domain.Manifest, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    hub((\"pergola\"))\n")

	for _, m := range manifests {
		// Sanitize ID for Mermaid
		safeID := sanitizeMermaidID(m.ID)

		label := m.ID
		if m.Origin != "" {
			label = fmt.Sprintf("%s <br/> %s", m.ID, m.Origin)
		}
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", safeID, label))

		if len(m.Families) == 0 {
			sb.WriteString(fmt.Sprintf("    hub --> %s\n", safeID))
			continue
		}
		for _, f := range m.Families {
			edge := f.Name
			if f.Timeout != "" {
				// Annotate the edge with the family deadline
				edge = fmt.Sprintf("%s ⏱️ %s", f.Name, f.Timeout)
			}
			sb.WriteString(fmt.Sprintf("    hub -- \"%s\" --> %s\n", edge, safeID))
		}
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef attached fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef ready fill:#c8e6c9,stroke:#2e7d32,stroke-width:4px,color:#000;\n")

		readySet := make(map[string]bool)
		for _, id := range overlay.ReadyPeers {
			readySet[sanitizeMermaidID(id)] = true
		}

		emitted := make(map[string]bool)
		for _, id := range overlay.AttachedPeers {
			safeID := sanitizeMermaidID(id)
			if safeID == "" || emitted[safeID] || readySet[safeID] {
				continue
			}
			emitted[safeID] = true
			sb.WriteString(fmt.Sprintf("    class %s attached;\n", safeID))
		}
		for _, id := range overlay.ReadyPeers {
			safeID := sanitizeMermaidID(id)
			if safeID == "" || emitted[safeID] {
				continue
			}
			emitted[safeID] = true
			sb.WriteString(fmt.Sprintf("    class %s ready;\n", safeID))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
