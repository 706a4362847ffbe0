package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Settings is what the CLI remembers between runs: credentials and the
// defaults commands fall back to when an argument is left out.
type Settings struct {
	APIKey string `json:"api_key,omitempty"`
	APIURL string `json:"api_url,omitempty"`

	// DefaultCollection is used by upload and collection docs when no
	// collection ID is given.
	DefaultCollection string `json:"default_collection,omitempty"`
	// ProcessConfig is a TOML file applied by process when --config is absent.
	ProcessConfig string `json:"process_config,omitempty"`
}

func (s *Settings) empty() bool {
	return *s == Settings{}
}

var settingsPathFunc = defaultSettingsPath

func defaultSettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "docpipe", "config.json"), nil
}

// SettingsPath returns the location of config.json.
func SettingsPath() (string, error) {
	return settingsPathFunc()
}

// LoadSettings reads config.json. A missing file yields empty settings.
func LoadSettings() (*Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &s, nil
}

// SaveSettings writes config.json with 0600 permissions. Saving empty
// settings removes the file.
func SaveSettings(s *Settings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}

	if s == nil || s.empty() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// updateSettings loads config.json, applies fn and saves the result.
func updateSettings(fn func(*Settings) error) error {
	s, err := LoadSettings()
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return SaveSettings(s)
}

// CredentialSource says where the API key in use came from.
type CredentialSource string

const (
	SourceFlag     CredentialSource = "flag"
	SourceEnv      CredentialSource = "env"
	SourceSettings CredentialSource = "config"
	SourceNone     CredentialSource = "none"
)

type credentials struct {
	apiKey   string
	apiURL   string
	source   CredentialSource
	settings *Settings
}

// resolveCredentials picks the key and URL independently, each from the
// first of flag, environment (including .env) and config.json that sets it.
// The URL falls back to defaultAPIURL.
func resolveCredentials(flagKey, flagURL string) (credentials, error) {
	_ = godotenv.Load()

	s, err := LoadSettings()
	if err != nil {
		return credentials{}, err
	}

	c := credentials{source: SourceNone, settings: s}
	switch {
	case flagKey != "":
		c.apiKey, c.source = flagKey, SourceFlag
	case os.Getenv(envAPIKey) != "":
		c.apiKey, c.source = os.Getenv(envAPIKey), SourceEnv
	case s.APIKey != "":
		c.apiKey, c.source = s.APIKey, SourceSettings
	}

	c.apiURL = firstNonEmpty(flagURL, os.Getenv(envAPIURL), s.APIURL, defaultAPIURL)
	return c, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// settingKeys maps the names accepted by 'docpipe config' to their fields.
var settingKeys = map[string]func(*Settings) *string{
	"collection":     func(s *Settings) *string { return &s.DefaultCollection },
	"process-config": func(s *Settings) *string { return &s.ProcessConfig },
}

func settingField(s *Settings, key string) (*string, error) {
	field, ok := settingKeys[key]
	if !ok {
		names := make([]string, 0, len(settingKeys))
		for k := range settingKeys {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(names, ", "))
	}
	return field(s), nil
}
