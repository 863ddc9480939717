package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/lib/pq" // postgres driver
	"github.com/spf13/cobra"

	"github.com/portal-pesantren/portal-sub001/pkg/database/migrate"
)

func getMigrateCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the client state database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return o.withDB(migrate.Run)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return o.withDB(migrate.Down)
			},
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations, or roll back when N is negative",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return o.withDB(func(db *sql.DB) error { return migrate.Steps(db, n) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withDB(func(db *sql.DB) error {
					status, err := migrate.Current(db)
					if err != nil {
						return err
					}
					cmd.Println(status)
					return nil
				})
			},
		},
	)
	return cmd
}

// withDB opens the configured database for the duration of fn.
func (o *rootOptions) withDB(fn func(*sql.DB) error) error {
	if o.cfg.Database.DSN == "" {
		return errors.New("database.dsn is not configured")
	}
	db, err := sql.Open("postgres", o.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}
