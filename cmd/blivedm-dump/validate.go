package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/c-basalt/blivedm-dump/bootstrap/web"
	"github.com/c-basalt/blivedm-dump/dump"
)

func validateCookiesCmd() *cobra.Command {
	var navURL string

	cmd := &cobra.Command{
		Use:   "validate-cookies <cookie-file>",
		Short: "Check that a cookie file holds a logged-in session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cookies, err := web.LoadCookieFile(args[0])
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			ok, err := web.ValidateCookies(cmd.Context(), client, navURL, cookies)
			if err != nil {
				return err
			}
			if !ok {
				return dump.ErrInvalidCookies
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d cookies)\n", args[0], len(cookies))
			return nil
		},
	}

	cmd.Flags().StringVar(&navURL, "nav-url", web.DefaultNavURL, "Endpoint used to check the session")
	return cmd
}
