package main

import (
	"fmt"
	"os"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/spf13/cobra"
)

// peersCmd represents the peers command
var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the peer manifests in the catalog",
	Long:  `Inspects the manifest catalog and prints each peer with its origin, embed URL, and operation families.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		graphMode, _ := cmd.Flags().GetBool("graph")
		jsonMode, _ := cmd.Flags().GetBool("json")

		err := cli.RunPeers(cli.PeersOptions{
			ConfigPath: configPath,
			Graph:      graphMode,
			JSON:       jsonMode,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)

	peersCmd.Flags().Bool("graph", false, "Output a Mermaid diagram of the bridge topology")
	peersCmd.Flags().Bool("json", false, "Output the raw manifests as JSON")
}
