package devtool

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/kanggyeonggu/identity-service/internal/client"
)

// refreshCookieName matches the cookie issued by the server's auth handler.
const refreshCookieName = "refresh_token"

func newSessionCmd(opts *rootOptions) *cobra.Command {
	session := &cobra.Command{
		Use:   "session",
		Short: "Drive a client session against a running server",
	}

	var baseURL, raw string
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange a refresh credential for an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if raw == "" {
				return fmt.Errorf("--token is required")
			}
			ctrl, err := client.NewSessionController(baseURL, client.WithLogger(opts.logger()))
			if err != nil {
				return err
			}
			u, err := url.Parse(baseURL + "/api/auth")
			if err != nil {
				return fmt.Errorf("base url: %w", err)
			}
			ctrl.Jar().SetCookies(u, []*http.Cookie{{Name: refreshCookieName, Value: raw, Path: "/api/auth"}})

			if !ctrl.Refresh(cmd.Context()) {
				return fmt.Errorf("refresh failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), ctrl.Token())
			return nil
		},
	}
	refresh.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "identity service base URL")
	refresh.Flags().StringVar(&raw, "token", "", "raw refresh credential")

	session.AddCommand(refresh)
	return session
}
