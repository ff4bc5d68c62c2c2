package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentworkforce/pushmirror/internal/credstore"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Pushbullet access token",
	}
	cmd.AddCommand(newSecretSetCmd("set", "Store the access token", "Access token: ", credstore.KeyAccessToken))
	cmd.AddCommand(newSecretClearCmd("clear", "Remove the stored access token", credstore.KeyAccessToken))
	return cmd
}

func newE2EECmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "e2ee",
		Short: "Manage the end-to-end encryption password",
	}
	cmd.AddCommand(newSecretSetCmd("set", "Store the encryption password", "Encryption password: ", credstore.KeyE2EESecret))
	cmd.AddCommand(newSecretClearCmd("clear", "Remove the stored encryption password", credstore.KeyE2EESecret))
	return cmd
}

func newSecretSetCmd(use, short, prompt, key string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStdin, _ := cmd.Flags().GetBool("stdin")
			value, err := readSecret(cmd, prompt, fromStdin)
			if err != nil {
				return err
			}
			if key == credstore.KeyAccessToken {
				value = strings.TrimSpace(value)
			}
			if value == "" {
				return errors.New("empty value; use `clear` to remove it")
			}
			store, err := openCredentialStore()
			if err != nil {
				return err
			}
			if err := store.Set(credentialService(), key, value); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "saved")
			return nil
		},
	}
	cmd.Flags().Bool("stdin", false, "Read the value from standard input instead of prompting.")
	return cmd
}

func newSecretClearCmd(use, short, key string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCredentialStore()
			if err != nil {
				return err
			}
			if err := store.Delete(credentialService(), key); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

// readSecret prompts with echo disabled when stdin is a terminal, otherwise
// reads one line.
func readSecret(cmd *cobra.Command, prompt string, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
