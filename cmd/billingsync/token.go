package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	authmw "github.com/mihaimyh/billingsync/middleware/http"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			auth, err := authmw.NewAuthenticator(authmw.Config{
				Secret: cfg.AuthJWTSecret,
				Issuer: cfg.AuthIssuer,
			})
			if err != nil {
				return err
			}
			token, err := auth.Issue(authmw.Identity{UserID: userID, Email: email}, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
