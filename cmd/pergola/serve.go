package main

import (
	"fmt"
	"os"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge daemon",
	Long: `Starts the Pergola bridge: the HTTP transport for embedded frames, plus
the Redis transport and local helper programs when configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		address, _ := cmd.Flags().GetString("address")
		banner, _ := cmd.Flags().GetBool("banner")

		err := cli.RunServe(cli.ServeOptions{
			ConfigPath: configPath,
			Address:    address,
			Banner:     banner,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("address", "a", "", "Listen address (overrides http.address from the config)")
	serveCmd.Flags().Bool("banner", true, "Print the startup banner")
}
