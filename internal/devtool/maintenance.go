package devtool

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// ErrProduction is returned by maintenance commands when APP_ENV is prod.
var ErrProduction = errors.New("refusing to run against a production environment")

func newResetSequenceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-sequence",
		Short: "Rewind the identity id counter",
		Long: `Rewind the identities id counter so the next identity gets the lowest id.

Refused when APP_ENV is prod/production or while any non-deleted identity exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// refuse before anything touches the database
			if cfg.IsProduction() {
				return ErrProduction
			}
			a, err := opts.openAppWith(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.Background()) }()

			if err := a.Sessions.ResetSequence(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "identity sequence reset")
			return nil
		},
	}
}

func newDeleteUserCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <id>",
		Short: "Soft-delete an identity and revoke its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid identity id %q", args[0])
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.Background()) }()

			if err := a.Sessions.DeleteUser(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete identity %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identity %d deleted\n", id)
			return nil
		},
	}
}
