package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the account's push history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every push of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCredentialStore()
			if err != nil {
				return err
			}
			token, err := requireToken(store)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*viper.GetDuration("http.timeout"))
			defer cancel()
			if err := apiClientFromViper().DeletePushes(ctx, token); err != nil {
				return fmt.Errorf("clear push history: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "push history cleared")
			return nil
		},
	})
	return cmd
}
