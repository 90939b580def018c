package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/loam"

	loamAdapter "github.com/aretw0/pergola/pkg/adapters/loam"
)

// Generates a ready-to-serve bridge workspace: a manifest catalog, a local
// program registry with a minimal shell peer, and a pergola.yaml tying them
// together. Run `pergola serve` from inside the generated directory.
func main() {
	targetDir := "examples/bridge-workspace"
	if len(os.Args) > 1 {
		targetDir = os.Args[1]
	}

	catalogDir := filepath.Join(targetDir, "peers")
	if err := os.MkdirAll(catalogDir, 0755); err != nil {
		panic(err)
	}

	fmt.Printf("Generating bridge workspace in: %s\n", targetDir)

	// Init Loam (No Versioning = pure file generation)
	repo, err := loam.Init(catalogDir, loam.WithVersioning(false))
	if err != nil {
		panic(err)
	}

	typedRepo := loam.NewTyped[loamAdapter.ManifestMetadata](repo)
	ctx := context.TODO()

	// 1. Planner (families with deadlines)
	err = typedRepo.Save(ctx, &loam.DocumentModel[loamAdapter.ManifestMetadata]{
		ID:      "planner",
		Content: "Plans field work and keeps the shared schedule.",
		Data: loamAdapter.ManifestMetadata{
			Title:    "Planner",
			Origin:   "https://planner.example.com",
			EmbedURL: "https://planner.example.com/embed",
			Families: []loamAdapter.FamilyMetadata{
				{Name: "records", Timeout: "30s"},
				{Name: "search", Timeout: "10s"},
			},
		},
	})
	check(err)

	// 2. Search (inherits the default call deadline)
	err = typedRepo.Save(ctx, &loam.DocumentModel[loamAdapter.ManifestMetadata]{
		ID:      "search",
		Content: "Full-text search over the shared workspace.",
		Data: loamAdapter.ManifestMetadata{
			Title:    "Search",
			Origin:   "https://search.example.com",
			EmbedURL: "https://search.example.com/embed",
			Families: []loamAdapter.FamilyMetadata{
				{Name: "search"},
			},
		},
	})
	check(err)

	// 3. A local shell peer: signals READY, then logs what the host pushes.
	peerScript := `#!/bin/sh
# Minimal Pergola peer. The host pins identity and origin via environment.
echo '{"channel":"READY"}'
while read -r line; do
  echo "[$PERGOLA_PEER_ID] received: $line" >&2
done
`
	check(os.WriteFile(filepath.Join(targetDir, "echo-peer.sh"), []byte(peerScript), 0755))

	programs := `programs:
  - name: echo
    command: ./echo-peer.sh
    description: Logs every envelope the bridge pushes to it.
`
	check(os.WriteFile(filepath.Join(targetDir, "programs.yaml"), []byte(programs), 0644))

	config := `log_level: info
host_origin: https://host.example.com

http:
  address: ":8080"

catalog:
  path: ./peers
  watch: true

programs:
  path: ./programs.yaml

metrics:
  enabled: true
`
	check(os.WriteFile(filepath.Join(targetDir, "pergola.yaml"), []byte(config), 0644))

	fmt.Println("Done. Verify contents in", targetDir)
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}
