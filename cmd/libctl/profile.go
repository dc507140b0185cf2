package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Profile is the saved CLI configuration.
type Profile struct {
	Server    string        `toml:"server"`
	Username  string        `toml:"username"`
	TokenFile string        `toml:"token_file"`
	Timeout   time.Duration `toml:"timeout"`
	Output    OutputConfig  `toml:"output"`
}

// OutputConfig controls how results are printed.
type OutputConfig struct {
	Color    bool `toml:"color"`
	ShowSize bool `toml:"show_size"`
}

func defaultProfile() Profile {
	return Profile{
		Server:  "http://localhost:8080",
		Timeout: 30 * time.Second,
		Output: OutputConfig{
			Color:    true,
			ShowSize: true,
		},
	}
}

// defaultProfilePath is ~/.config/librarian/config.toml.
func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "librarian", "config.toml")
}

// loadProfile reads path over the defaults. A missing or empty file yields
// the defaults.
func loadProfile(path string, defaults Profile) (Profile, error) {
	p := defaults
	if strings.TrimSpace(path) == "" {
		return p, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if len(content) == 0 {
		return p, nil
	}

	if err := toml.Unmarshal(content, &p); err != nil {
		return Profile{}, fmt.Errorf("decode toml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// saveProfile writes p to path, creating the directory.
func saveProfile(path string, p Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (p Profile) Validate() error {
	u, err := url.Parse(strings.TrimSpace(p.Server))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server %q", p.Server)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server must be http or https, got %q", u.Scheme)
	}
	if p.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	return nil
}
