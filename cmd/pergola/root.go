package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pergola",
	Short: "Pergola is a messaging bridge between a host and its embedded peers",
	Long: `Pergola relays identity, presentation, and operation calls between a host
application and the untrusted frames it embeds, over origin-checked
one-way transports.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "pergola.yaml", "Path to the bridge configuration file")
}
