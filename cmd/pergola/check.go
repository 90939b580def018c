package main

import (
	"fmt"
	"os"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the bridge configuration",
	Long:  `Checks the configuration file, the manifest catalog, and the local program registry for problems before the bridge starts.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")

		if err := cli.RunCheck(configPath); err != nil {
			fmt.Printf("Check failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
