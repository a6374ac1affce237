package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const testCredentials = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["urn:ietf:wg:oauth:2.0:oob"]}}`

func TestWriteToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	expiry := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	err := writeToken(path, &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: expiry})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, but got %o", info.Mode().Perm())
	}

	raw, _ := os.ReadFile(path)
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	if token.RefreshToken != "refresh" || !token.Expiry.Equal(expiry) {
		t.Errorf("unexpected token %+v", token)
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	credentials := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(credentials, []byte(testCredentials), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		credentials   string
		input         string
		expectedError string
	}{
		{
			name:          "missing_credentials",
			credentials:   filepath.Join(dir, "absent.json"),
			expectedError: "failed to read credentials",
		},
		{
			name:          "empty_code",
			credentials:   credentials,
			input:         "\n",
			expectedError: "authorization code cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), tt.credentials, filepath.Join(dir, "token.json"), strings.NewReader(tt.input), &out)
			if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
				t.Fatalf("expected error containing '%s', but got %v", tt.expectedError, err)
			}
			if tt.name == "empty_code" && !strings.Contains(out.String(), "accounts.google.com") {
				t.Errorf("expected consent URL to be printed, got %q", out.String())
			}
		})
	}
}
