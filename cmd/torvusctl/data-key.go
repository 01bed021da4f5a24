package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/torvus-labs/torvus-console/pkg/seal"
)

// dataKeyCmd represents the data-key command
var dataKeyCmd = &cobra.Command{
	Use:   "data-key",
	Short: "Manage the data encryption key",
	Long:  `Manage the data encryption key`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'data-key' requires a subcommand generate")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

// dataKeyGenerateCmd represents the data-key > generate command
var dataKeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a data encryption key",
	Long: `
Generate a data encryption key

Use this command to generate a new Base64-encoded 256 bit data encryption key. Once generated, this key should be placed into the environment of
the Torvus Console server. It seals every secret value stored in the database.

Example:

$ export TORVUS_DATA_KEY="$(torvusctl data-key generate)"
`,
	Run: func(cmd *cobra.Command, args []string) {
		key, err := seal.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s", key)
	},
}

func init() {
	rootCmd.AddCommand(dataKeyCmd)
	dataKeyCmd.AddCommand(dataKeyGenerateCmd)
}
