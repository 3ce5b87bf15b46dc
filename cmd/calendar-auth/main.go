// calendar-auth runs the one-time OAuth consent flow for the Google Calendar
// connection and stores the resulting token where the service expects it
// (GOOGLE_OAUTH_TOKEN_FILE, default calendar_token.json). The service then
// refreshes the token on its own; rerun this only if the grant is revoked.
//
// Usage (from backend directory):
//   GOOGLE_OAUTH_CLIENT_FILE=client_secret.json go run ./cmd/calendar-auth
package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

func main() {
	cfg, err := config.CalendarOAuthConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "oauth config: %v\n", err)
		os.Exit(1)
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following link in your browser, approve access, then paste the code here:\n%v\n\ncode: ", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		fmt.Fprintf(os.Stderr, "read authorization code: %v\n", err)
		os.Exit(1)
	}

	token, err := cfg.Exchange(context.Background(), authCode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exchange authorization code: %v\n", err)
		os.Exit(1)
	}

	store := config.NewFileTokenStore(config.CalendarTokenPath())
	if err := store.SaveToken(token); err != nil {
		fmt.Fprintf(os.Stderr, "save token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token saved to %s\n", store.Path)
}
