package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "torvusctl",
	Short: "Torvus Console server and operator tooling",
	Long: `Run the Torvus Console dual-control server and manage its database,
staff directory, roles and audit chain.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
