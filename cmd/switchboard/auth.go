package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "API credential management commands",
	}

	cmd.AddCommand(newAuthSetPasswordCmd())
	return cmd
}

func newAuthSetPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Generate a password hash for the send-message API",
		Long: `Prompts for a password and prints the bcrypt hash to put in
http.auth.password_hash of your Switchboard config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthSetPassword(cmd)
		},
	}
	return cmd
}

// readPassword reads a password without echo when stdin is a terminal,
// falling back to a plain line read otherwise (tests, pipes).
var readPassword = func(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return "", fmt.Errorf("read password: %w", scanner.Err())
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func runAuthSetPassword(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	pass, err := readPassword(cmd)
	if err != nil {
		return err
	}
	if pass == "" {
		return fmt.Errorf("auth: password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	fmt.Fprintln(out, "Add to your config file under http.auth:")
	fmt.Fprintf(out, "password_hash: %s\n", string(hash))
	return nil
}
