package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/torvus-labs/torvus-console/pkg/db"
	"github.com/torvus-labs/torvus-console/pkg/roles"
)

// roleCmd represents the role command
var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage role memberships",
	Long:  `Grant permanent roles and inspect effective roles.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'role' requires a subcommand (grant, show)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

var roleGrantCmd = &cobra.Command{
	Use:   "grant <staff-id> <role>",
	Short: "Grant a permanent role",
	Long: `Grant a permanent role to a staff member.

Temporary roles come only from approved break-glass requests.

Example:
  torvusctl role grant bob security_admin`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		authority, err := openAuthority()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := authority.GrantPermanentRole(context.Background(), args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to grant role: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Granted %s to %s\n", args[1], args[0])
	},
}

var roleShowCmd = &cobra.Command{
	Use:   "show <staff-id>",
	Short: "Show the roles a staff member holds now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		authority, err := openAuthority()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		held, err := authority.RolesAt(context.Background(), args[0], time.Now().UTC())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read roles: %v\n", err)
			os.Exit(1)
		}
		if len(held) == 0 {
			fmt.Println("(none)")
			return
		}
		fmt.Println(strings.Join(held, "\n"))
	},
}

func init() {
	rootCmd.AddCommand(roleCmd)
	roleCmd.AddCommand(roleGrantCmd)
	roleCmd.AddCommand(roleShowCmd)
}

func openAuthority() (*roles.Authority, error) {
	gdb, err := db.Connect(db.Config{})
	if err != nil {
		return nil, err
	}
	return roles.NewAuthority(gdb), nil
}
