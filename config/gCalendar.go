package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var (
	calendarService   *calendar.Service
	calendarServiceMu sync.Mutex
)

// GetCalendarID returns the target calendar. Defaults to the account's primary
// calendar when GOOGLE_CALENDAR_ID is not set.
func GetCalendarID() string {
	if v := os.Getenv("GOOGLE_CALENDAR_ID"); v != "" {
		return v
	}
	return "primary"
}

// GetCalendarService returns the Google Calendar API service, initializing it on
// first use. Auth resolution order:
//  1. GOOGLE_OAUTH_CLIENT_FILE + GOOGLE_OAUTH_TOKEN_FILE (user OAuth; token file
//     must already exist, seed it once with cmd/calendar-auth)
//  2. Application Default Credentials (Cloud Run service account or
//     GOOGLE_APPLICATION_CREDENTIALS)
func GetCalendarService(ctx context.Context) (*calendar.Service, error) {
	calendarServiceMu.Lock()
	defer calendarServiceMu.Unlock()
	if calendarService != nil {
		return calendarService, nil
	}

	var (
		svc *calendar.Service
		err error
	)
	if os.Getenv("GOOGLE_OAUTH_CLIENT_FILE") != "" {
		svc, err = newOAuthCalendarService(ctx)
	} else {
		svc, err = calendar.NewService(ctx, option.WithScopes(calendar.CalendarScope))
	}
	if err != nil {
		return nil, err
	}
	calendarService = svc
	return calendarService, nil
}

// CalendarOAuthConfig builds the oauth2 config from GOOGLE_OAUTH_CLIENT_FILE.
// Exposed for cmd/calendar-auth's one-time interactive exchange.
func CalendarOAuthConfig() (*oauth2.Config, error) {
	clientFile := os.Getenv("GOOGLE_OAUTH_CLIENT_FILE")
	if clientFile == "" {
		return nil, errors.New("GOOGLE_OAUTH_CLIENT_FILE not set")
	}
	b, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client file: %w", err)
	}
	return cfg, nil
}

func newOAuthCalendarService(ctx context.Context) (*calendar.Service, error) {
	cfg, err := CalendarOAuthConfig()
	if err != nil {
		return nil, err
	}

	store := NewFileTokenStore(CalendarTokenPath())
	token, err := store.LoadToken()
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("no calendar token at %s; run cmd/calendar-auth once to authorize", store.Path)
	}

	source := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, cfg.TokenSource(ctx, token)),
		tokenStore: store,
		lastToken:  token,
	}
	return calendar.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, source)))
}

// CalendarTokenPath is where the OAuth refresh token lives, GOOGLE_OAUTH_TOKEN_FILE
// overrides the default.
func CalendarTokenPath() string {
	if v := os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"); v != "" {
		return v
	}
	return "calendar_token.json"
}

// TokenStore saves and loads OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// FileTokenStore is a file-based TokenStore.
type FileTokenStore struct {
	Path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

func (store *FileTokenStore) SaveToken(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.WriteFile(store.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// LoadToken returns nil, nil if the file does not exist (first run).
func (store *FileTokenStore) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(store.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// autoSaveTokenSource persists refreshed tokens so restarts keep working after
// the access token rotates.
type autoSaveTokenSource struct {
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}
	return token, nil
}
