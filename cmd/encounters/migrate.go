package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/encounters.report/internal/db"
)

func (a *app) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	// withDB opens the database without applying migrations.
	withDB := func(fn func(cmd *cobra.Command, store *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := db.OpenDB(a.v.GetString("db"))
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(cmd, store, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, store *db.DB, _ []string) error {
				if err := store.MigrateUp(db.MigrationsFS()); err != nil {
					return err
				}
				return printMigrationStatus(cmd.OutOrStdout(), store)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, store *db.DB, _ []string) error {
				if err := store.MigrateDown(db.MigrationsFS()); err != nil {
					return err
				}
				return printMigrationStatus(cmd.OutOrStdout(), store)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current and latest schema versions",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, store *db.DB, _ []string) error {
				return printMigrationStatus(cmd.OutOrStdout(), store)
			}),
		},
		&cobra.Command{
			Use:   "version N",
			Short: "Migrate up or down to version N",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, store *db.DB, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				if err := store.MigrateTo(db.MigrationsFS(), uint(v)); err != nil {
					return err
				}
				return printMigrationStatus(cmd.OutOrStdout(), store)
			}),
		},
		newForceCmd(withDB),
	)
	return cmd
}

func newForceCmd(withDB func(func(*cobra.Command, *db.DB, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "force N",
		Short: "Set the schema version without running migrations (dirty state recovery only)",
		Args:  cobra.ExactArgs(1),
		RunE: withDB(func(cmd *cobra.Command, store *db.DB, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			out := cmd.OutOrStdout()
			if !yes {
				fmt.Fprintf(out, "Forcing schema version to %d. Continue? [y/N]: ", v)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
					fmt.Fprintln(out, "aborted")
					return nil
				}
			}
			if err := store.MigrateForce(db.MigrationsFS(), v); err != nil {
				return err
			}
			return printMigrationStatus(out, store)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func printMigrationStatus(w io.Writer, store *db.DB) error {
	st, err := store.GetMigrationStatus(db.MigrationsFS())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "current version: %d\nlatest version: %d\npending: %d\ndirty: %v\n",
		st.Current, st.Latest, st.Pending(), st.Dirty)
	if st.Dirty {
		fmt.Fprintln(w, "the database is dirty: a migration failed part way; inspect it, then run 'encounters migrate force N'")
	}
	return nil
}
