package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/db"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'audit' requires a subcommand (verify)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit hash chain",
	Long: `Walk every audit record in order and recompute its hash.

Exits non-zero if a record was altered, removed or inserted out of order.

Example:
  torvusctl audit verify`,
	Run: func(cmd *cobra.Command, args []string) {
		conn, err := db.OpenAudit(db.AuditURL())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		store := audit.NewStore(conn)
		defer func() { _ = store.Close() }()

		result, err := store.Verify(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Audit chain verification failed after %d records: %v\n", result.Checked, err)
			os.Exit(1)
		}
		if result.Checked == 0 {
			fmt.Println("Audit log is empty")
			return
		}
		fmt.Printf("Verified %d records, head %d %s\n", result.Checked, result.HeadID, result.Head)
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}
