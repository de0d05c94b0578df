package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/imagebatch/internal/auth"
	"github.com/lehigh-university-libraries/imagebatch/internal/config"
)

func withIdentity(cmd *cobra.Command, fn func(cfg config.Config, id *auth.Identity) error) error {
	cfg := config.Load()
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, auth.NewIdentity(store))
}

func newLoginCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Record who is using this client",
		Long: `Saves your email as the local identity. When IMAGEBATCH_AUTH_SECRET is set,
a bearer token for the imagebatch server is printed as well.`,
		Example: `  imagebatch login --email someone@example.edu`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd, func(cfg config.Config, id *auth.Identity) error {
				saved, err := id.Login(cmd.Context(), email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", saved)

				if cfg.AuthSecret == "" {
					return nil
				}
				tokens, err := auth.NewTokens(cfg.AuthSecret, 0)
				if err != nil {
					return err
				}
				token, err := tokens.Issue(saved)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Token: %s\n", token)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Work email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd, func(_ config.Config, id *auth.Identity) error {
				if err := id.Logout(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the local identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd, func(_ config.Config, id *auth.Identity) error {
				email, err := id.Email(cmd.Context())
				if err != nil {
					return err
				}
				if email == "" {
					return errors.New("not logged in")
				}
				fmt.Fprintln(cmd.OutOrStdout(), email)
				return nil
			})
		},
	}
}
