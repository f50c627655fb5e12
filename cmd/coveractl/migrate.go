package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"covera.io/internal/migrate"
	"covera.io/internal/obs"
	migrations "covera.io/ops/migrations"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations and seeds",
	}

	run := func(action func(cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			_, st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			m := migrate.NewManager(st.DB(), migrations.FS, migrations.MigrationsDir, migrations.SeedsDir,
				migrate.WithLogger(obs.Logger()))
			return action(cmd, m)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				ctx, cancel := opts.context(cmd.Context())
				defer cancel()
				applied, err := m.Up(ctx)
				printList(cmd, "applied", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				ctx, cancel := opts.context(cmd.Context())
				defer cancel()
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed files not yet applied",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				ctx, cancel := opts.context(cmd.Context())
				defer cancel()
				applied, err := m.Seed(ctx)
				printList(cmd, "seeded", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations in order",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				ctx, cancel := opts.context(cmd.Context())
				defer cancel()
				history, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}),
		},
	)
	return cmd
}

func printList(cmd *cobra.Command, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "nothing %s\n", verb)
		return
	}
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, name)
	}
}
