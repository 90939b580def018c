package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/pergola/pkg/domain"
)

func TestManifestMarkdown(t *testing.T) {
	manifests := []domain.Manifest{
		{
			ID:       "planner",
			Title:    "Planner",
			Origin:   "https://planner.example",
			EmbedURL: "https://planner.example/embed",
			Families: []domain.Family{
				{Name: "records", Timeout: "30s"},
				{Name: "search"},
			},
			Description: "Plans field work.",
		},
		{
			ID:     "billing",
			Origin: "https://billing.example",
		},
	}

	out := manifestMarkdown(manifests)

	assert.Contains(t, out, "# Planner (`planner`)")
	assert.Contains(t, out, "- Origin: https://planner.example")
	assert.Contains(t, out, "- Embed URL: https://planner.example/embed")
	assert.Contains(t, out, "- Families: records (30s), search")
	assert.Contains(t, out, "Plans field work.")

	// Untitled manifests fall back to their ID.
	assert.Contains(t, out, "# billing (`billing`)")
	assert.Contains(t, out, "\n---\n")
}
