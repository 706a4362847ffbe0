package client

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/spf13/cobra"
)

// AuthCmd groups the commands that manage stored credentials.
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
	}

	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authStatusCmd())

	return cmd
}

func authLoginCmd() *cobra.Command {
	var apiKey, apiURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key and server URL",
		Long: `Stores the API key and server URL in config.json under the user config
directory. Stored defaults (collection, process-config) are kept.
Without --api-key the key is read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.InOrStdin(), cmd.OutOrStdout(), apiKey, apiURL)
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (dp_...)")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "docpiped base URL")

	return cmd
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored API key",
		Long:  "Removes the stored API key and URL. Stored defaults are kept.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := updateSettings(func(s *Settings) error {
				s.APIKey, s.APIURL = "", ""
				return nil
			}); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which credentials and defaults are in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flagKey, _ := cmd.Flags().GetString("api-key")
			flagURL, _ := cmd.Flags().GetString("api-url")
			creds, err := resolveCredentials(flagKey, flagURL)
			if err != nil {
				return err
			}
			status := newAuthStatus(creds)
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			printAuthStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func runAuthLogin(in io.Reader, out io.Writer, apiKey, apiURL string) error {
	if apiKey == "" {
		fmt.Fprint(out, "Enter API key: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey = strings.TrimSpace(line)
	}

	if !domain.IsValidAPIToken(apiKey) {
		return fmt.Errorf("invalid API key format (expected: %s + 64 hex characters)", domain.APITokenPrefix)
	}

	if err := updateSettings(func(s *Settings) error {
		s.APIKey, s.APIURL = apiKey, strings.TrimRight(apiURL, "/")
		return nil
	}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(out, "Logged in to %s\n", apiURL)
	return nil
}

type authStatus struct {
	Authenticated     bool             `json:"authenticated"`
	Source            CredentialSource `json:"source"`
	APIKey            string           `json:"api_key,omitempty"`
	APIURL            string           `json:"api_url"`
	DefaultCollection string           `json:"default_collection,omitempty"`
	ProcessConfig     string           `json:"process_config,omitempty"`
}

func newAuthStatus(c credentials) authStatus {
	st := authStatus{
		Authenticated:     c.apiKey != "",
		Source:            c.source,
		APIURL:            c.apiURL,
		DefaultCollection: c.settings.DefaultCollection,
		ProcessConfig:     c.settings.ProcessConfig,
	}
	if st.Authenticated {
		st.APIKey = maskAPIKey(c.apiKey)
	}
	return st
}

func printAuthStatus(w io.Writer, st authStatus) {
	if !st.Authenticated {
		fmt.Fprintln(w, "Not authenticated")
		fmt.Fprintln(w, "Run 'docpipe auth login' to authenticate")
	} else {
		fmt.Fprintf(w, "Authenticated: yes (%s)\n", st.Source)
		fmt.Fprintf(w, "API Key: %s\n", st.APIKey)
	}
	fmt.Fprintf(w, "API URL: %s\n", st.APIURL)
	fmt.Fprintf(w, "Default collection: %s\n", orNone(st.DefaultCollection))
	fmt.Fprintf(w, "Process config: %s\n", orNone(st.ProcessConfig))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// maskAPIKey keeps the prefix and the last four characters.
func maskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// ConfigCmd manages the defaults stored next to the credentials.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stored defaults",
		Long: `Stores defaults in config.json:

  collection      collection used by upload and collection docs when none is given
  process-config  TOML file used by process when --config is not given`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a default",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := settingValue(args[0], args[1])
			if err != nil {
				return err
			}
			if err := updateSettings(func(s *Settings) error {
				field, err := settingField(s, args[0])
				if err != nil {
					return err
				}
				*field = value
				return nil
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <key>",
		Short: "Clear a default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateSettings(func(s *Settings) error {
				field, err := settingField(s, args[0])
				if err != nil {
					return err
				}
				*field = ""
				return nil
			})
		},
	})

	return cmd
}

// settingValue normalises and checks a value before it is stored. A process
// config is stored as an absolute path once it parses.
func settingValue(key, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty (use 'docpipe config unset %s')", key, key)
	}
	if key != "process-config" {
		return value, nil
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", value, err)
	}
	if _, err := loadProcessConfig(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// defaultCollection returns the stored default collection or an error that
// tells the user how to set one.
func defaultCollection() (string, error) {
	s, err := LoadSettings()
	if err != nil {
		return "", err
	}
	if s.DefaultCollection == "" {
		return "", fmt.Errorf("no collection given and no default set (run 'docpipe config set collection <id>')")
	}
	return s.DefaultCollection, nil
}
