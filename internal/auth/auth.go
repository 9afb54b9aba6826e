// Package auth handles the Google OAuth flow for the Gmail and Calendar
// clients. Tokens persist to a file and refreshed tokens are saved back
// automatically.
package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// TokenStore saves and loads OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// ConfigFromCredentials reads a Google Cloud credentials file and returns an
// OAuth config scoped for reading/modifying mail and writing calendar
// events.
func ConfigFromCredentials(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmail.GmailModifyScope, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return cfg, nil
}

// Client returns an authenticated HTTP client. With no stored token it runs
// the interactive flow: a local callback server receives the authorization
// code after the user visits the printed URL.
func Client(ctx context.Context, oauthConfig *oauth2.Config, store TokenStore) (*http.Client, error) {
	token, err := store.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	if token == nil {
		token, err = interactiveFlow(ctx, oauthConfig)
		if err != nil {
			return nil, err
		}
		if err := store.SaveToken(token); err != nil {
			return nil, fmt.Errorf("save token: %w", err)
		}
	}

	source := &autoSaveTokenSource{
		source:    oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		store:     store,
		lastToken: token,
	}
	return oauth2.NewClient(ctx, source), nil
}

// autoSaveTokenSource persists tokens whenever the wrapped source refreshes
// them, so restarts keep working without re-authorizing.
type autoSaveTokenSource struct {
	source    oauth2.TokenSource
	store     TokenStore
	lastToken *oauth2.Token
}

func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.store.SaveToken(token); err != nil {
			return nil, fmt.Errorf("save refreshed token: %w", err)
		}
		a.lastToken = token
	}
	return token, nil
}

func interactiveFlow(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start callback server: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	oauthConfig.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server := &http.Server{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if code := r.URL.Query().Get("code"); code != "" {
			fmt.Fprint(w, "<html><body>Authorization successful. You can close this window.</body></html>")
			codeChan <- code
		} else {
			fmt.Fprint(w, "<html><body>Authorization failed.</body></html>")
			errChan <- fmt.Errorf("no authorization code in callback")
		}
		go func() {
			time.Sleep(time.Second)
			server.Shutdown(context.Background())
		}()
	})
	server.Handler = mux
	go server.Serve(listener)

	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Println("Visit the following URL to authorize the application:")
	fmt.Println(authURL)

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}
