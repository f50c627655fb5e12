package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"covera.io/internal/audit"
	"covera.io/internal/auth"
)

func newModuleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Grant, revoke and list module access",
	}
	cmd.AddCommand(newModuleGrantCmd(opts), newModuleRevokeCmd(opts), newModuleListCmd(opts))
	return cmd
}

func moduleArg(_ *cobra.Command, args []string) error {
	_, err := auth.ParseModuleCode(args[1])
	return err
}

func newModuleGrantCmd(opts *rootOptions) *cobra.Command {
	var grantor string
	cmd := &cobra.Command{
		Use:   "grant USER_ID MODULE",
		Short: "Grant or reactivate access to a module",
		Args:  cobra.MatchAll(cobra.ExactArgs(2), moduleArg),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, _ := auth.ParseModuleCode(args[1])
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			svc, cleanup, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			grant, err := svc.GrantModule(audit.WithActor(ctx, grantor), args[0], module, grantor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s (%s)\n", grant.Module, grant.UserID, grant.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&grantor, "by", "", "identity recorded as the grantor")
	return cmd
}

func newModuleRevokeCmd(opts *rootOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "revoke USER_ID MODULE",
		Short: "Deactivate access to a module",
		Args:  cobra.MatchAll(cobra.ExactArgs(2), moduleArg),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, _ := auth.ParseModuleCode(args[1])
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			svc, cleanup, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			ok, err := svc.RevokeModule(audit.WithActor(ctx, actor), args[0], module)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s had no %s grant\n", args[0], module)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", module, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "by", "", "identity recorded as the revoker")
	return cmd
}

func newModuleListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list USER_ID",
		Short: "List every grant row of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			svc, cleanup, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			grants, err := svc.ListModuleGrants(ctx, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tACTIVE\tGRANTED AT\tGRANTED BY")
			for _, g := range grants {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", g.Module, g.Active, g.GrantedAt.Format("2006-01-02 15:04"), g.GrantedBy)
			}
			return tw.Flush()
		},
	}
}
