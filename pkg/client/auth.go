package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fruitsalade/librarian/pkg/protocol"
)

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	Username  string    `json:"username"`
}

// IsExpired returns true if the token has expired (with optional margin).
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// Login authenticates with username/password and keeps the issued token
// for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenFile, error) {
	body, _ := json.Marshal(protocol.TokenRequest{Username: username, Password: password})

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed: %w", classify(resp))
	}

	var result protocol.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse login response: %w", err)
	}

	c.SetAuthToken(result.Token)
	return &TokenFile{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		Server:    c.baseURL,
		Username:  result.Username,
	}, nil
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "librarian", "token.json")
}

// SaveToken writes a token file readable only by the current user.
func SaveToken(path string, tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken reads a token file.
func LoadToken(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// DeleteToken removes a saved token file.
func DeleteToken(path string) error {
	return os.Remove(path)
}
