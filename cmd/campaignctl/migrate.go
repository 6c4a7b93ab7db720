package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"placementmail/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back or inspect schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := migrations.NewRunner(db).Up(cmd.Context())
		for _, m := range applied {
			printSuccess(fmt.Sprintf("✓ Applied %03d_%s", m.Version, m.Name))
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			printInfo("No pending migrations")
		}
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := migrations.NewRunner(db).Down(cmd.Context())
		if err != nil {
			return err
		}
		if m == nil {
			printWarning("Nothing to roll back")
			return nil
		}
		printSuccess(fmt.Sprintf("✓ Rolled back %03d_%s", m.Version, m.Name))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		all, err := migrations.NewRunner(db).Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s%-8s %-30s %s%s\n", colorBold, "VERSION", "NAME", "APPLIED AT", colorReset)
		for _, m := range all {
			version := fmt.Sprintf("%03d", m.Version)
			if m.Applied {
				fmt.Printf("%s%-8s %-30s %s%s\n", colorGreen, version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"), colorReset)
				continue
			}
			fmt.Printf("%s%-8s %-30s %s%s\n", colorYellow, version, m.Name, "pending", colorReset)
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}
