package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/portal-pesantren/portal-sub001/pkg/platform"
	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

// envPassword supplies the login password when --password is not given.
const envPassword = "PORTAL_PASSWORD"

func getLoginCmd(o *rootOptions) *cobra.Command {
	var (
		email    string
		password string
		remember bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session for later commands",
		Long: `Sign in with email and password. The password is taken from --password,
then $` + envPassword + `, then the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(envPassword)
			}
			if password == "" {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				password = line
			}

			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				user, err := p.Session().Login(cmd.Context(), email, password, remember)
				if err != nil {
					return err
				}
				if o.jsonOutput {
					return printJSON(cmd.OutOrStdout(), user)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Selamat datang, %s.\n", user.Name)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&remember, "remember", true, "persist the session for later commands")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func getLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				if err := p.Session().Logout(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Anda telah keluar.")
				return err
			})
		},
	}
}

func getWhoamiCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				store := p.Session()
				if store.Status() != session.StatusAuthenticated {
					return session.ErrNotAuthenticated
				}
				if err := store.Revalidate(cmd.Context()); err != nil {
					return err
				}
				snap := store.Current()
				if !snap.Authenticated() || snap.User == nil {
					return session.ErrNotAuthenticated
				}
				return o.printUser(cmd.OutOrStdout(), *snap.User)
			})
		},
	}
}
