package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"covera.io/internal/audit"
	"covera.io/internal/auth"
)

func newIdentityCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Create identities and manage their roles and status",
	}
	cmd.AddCommand(newIdentityCreateCmd(opts), newRoleBindCmd(opts), newIdentityStatusCmd(opts))
	return cmd
}

func newIdentityCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		email, username, password string
		admin                     bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(email) == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			_, st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			identity, err := st.CreateIdentity(ctx, email, username, hash, admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), identity.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&username, "username", "", "optional login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().BoolVar(&admin, "system-admin", false, "grant unrestricted module access")
	return cmd
}

func newRoleBindCmd(opts *rootOptions) *cobra.Command {
	var scope, actor string
	cmd := &cobra.Command{
		Use:   "bind-role USER_ID ROLE",
		Short: "Bind a seeded role to an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := auth.ParseScope(scope)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			svc, cleanup, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			role, err := svc.BindRole(audit.WithActor(ctx, actor), args[0], args[1], sc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bound %s (%s) to %s\n", role.Name, role.Scope, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(auth.ScopeWeb), "scope the role lives in")
	cmd.Flags().StringVar(&actor, "by", "", "identity recorded as the actor")
	return cmd
}

func newIdentityStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "set-status USER_ID active|inactive",
		Short:     "Enable or disable an identity; disabling revokes its tokens",
		Args:      cobra.MatchAll(cobra.ExactArgs(2), statusArg),
		ValidArgs: []string{"active", "inactive"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			svc, cleanup, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			summary, err := svc.SetIdentityActive(ctx, args[0], args[1] == "active")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", summary.ID, summary.Active)
			return nil
		},
	}
}

func statusArg(_ *cobra.Command, args []string) error {
	if args[1] != "active" && args[1] != "inactive" {
		return fmt.Errorf("status must be active or inactive, got %q", args[1])
	}
	return nil
}
