package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentworkforce/pushmirror/internal/credstore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credentials and the account they belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCredentialStore()
			if err != nil {
				return err
			}
			creds, err := credstore.Load(store, credentialService())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "access token: %s\n", setOrNot(creds.AccessToken))
			_, _ = fmt.Fprintf(out, "e2ee password: %s\n", setOrNot(creds.E2EESecret))
			if creds.AccessToken == "" {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*viper.GetDuration("http.timeout"))
			defer cancel()
			user, err := apiClientFromViper().Me(ctx, creds.AccessToken)
			if err != nil {
				_, _ = fmt.Fprintf(out, "account: unavailable (%v)\n", err)
				return nil
			}
			_, _ = fmt.Fprintf(out, "account: %s (%s)\n", user.Email, user.Iden)
			return nil
		},
	}
}

func setOrNot(value string) string {
	if value == "" {
		return "not set"
	}
	return "set"
}
