package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Azarenkov/aitu-keeper/internal/migrate"
)

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	run := func(use, short string, fn func(*cobra.Command) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if a.cfg.Database.DSN == "" {
					return errors.New("database.dsn is required")
				}
				return fn(cmd)
			},
		}
	}
	cmd.AddCommand(
		run("up", "Apply all pending migrations", func(cmd *cobra.Command) error {
			if err := migrate.Up(cmd.Context(), a.cfg.Database.DSN); err != nil {
				return err
			}
			a.log.Info("migrations applied")
			return nil
		}),
		run("down", "Roll back the latest migration", func(cmd *cobra.Command) error {
			if err := migrate.Down(cmd.Context(), a.cfg.Database.DSN); err != nil {
				return err
			}
			a.log.Info("migration rolled back")
			return nil
		}),
	)
	return cmd
}
