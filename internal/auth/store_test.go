package auth

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestFileTokenStore_RoundTrip(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))

	saved := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	if err := store.SaveToken(saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadToken()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.AccessToken != saved.AccessToken || loaded.RefreshToken != saved.RefreshToken {
		t.Errorf("loaded token differs: %+v", loaded)
	}
}

func TestFileTokenStore_MissingFile(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "absent.json"))

	token, err := store.LoadToken()
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if token != nil {
		t.Errorf("expected nil token for missing file, got %+v", token)
	}
}
