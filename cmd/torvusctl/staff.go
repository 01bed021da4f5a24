package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/torvus-labs/torvus-console/pkg/db"
	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/model"
)

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage the staff directory",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'staff' requires a subcommand (add, deactivate)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

var staffAddCmd = &cobra.Command{
	Use:   "add <id> <email>",
	Short: "Add a staff member",
	Long: `Add a staff member to the directory.

The email must match what the edge access layer asserts for the person.

Example:
  torvusctl staff add alice alice@torvus.io --name "Alice Liddell"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		if err := addStaff(context.Background(), args[0], args[1], name); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to add staff: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added %s\n", args[0])
	},
}

var staffDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Deactivate a staff member",
	Long: `Deactivate a staff member. Requests from an inactive member are
rejected at the identity layer. Role memberships are left in place.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := deactivateStaff(context.Background(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to deactivate staff: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deactivated %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(staffCmd)
	staffCmd.AddCommand(staffAddCmd)
	staffCmd.AddCommand(staffDeactivateCmd)
	staffAddCmd.Flags().StringP("name", "n", "", "Display name")
}

func addStaff(ctx context.Context, id, email, name string) error {
	email = identity.NormalizeEmail(email)
	if id == "" || email == "" {
		return errors.New("id and email are required")
	}
	gdb, err := db.Connect(db.Config{})
	if err != nil {
		return err
	}

	err = gdb.WithContext(ctx).Create(&model.Staff{
		ID:          id,
		Email:       email,
		DisplayName: name,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}).Error
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("staff %s or email %s already exists", id, email)
	}
	return err
}

func deactivateStaff(ctx context.Context, id string) error {
	gdb, err := db.Connect(db.Config{})
	if err != nil {
		return err
	}
	res := gdb.WithContext(ctx).Model(&model.Staff{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("staff %s not found", id)
	}
	return nil
}
