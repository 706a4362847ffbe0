package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/docpipe/internal/config"
	"github.com/cloo-solutions/docpipe/internal/database"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/repository"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// keyAdmin is the slice of AuthService the admin commands drive.
type keyAdmin interface {
	CreateAPIKey(ctx context.Context, identity, name string) (string, error)
	ListAPIKeys(ctx context.Context, identity string) ([]*domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
	SetProviderKey(ctx context.Context, identity, provider, apiKey string) error
	DeleteProviderKey(ctx context.Context, identity, provider string) error
}

// withAuthService opens a short-lived pool and hands fn an AuthService.
func withAuthService(ctx context.Context, fn func(svc keyAdmin) error) error {
	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.NewAuthService(
		repository.NewAPIKeyRepository(pool),
		repository.NewProviderKeyRepository(pool),
		&service.DefaultUUIDGenerator{},
	)
	return fn(svc)
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return database.NewPool(ctx, cfg.DatabaseURL, database.PoolConfig{MaxConns: 2})
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list, and revoke API keys",
	}

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Create a new API key bound to an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")
			name, _ := cmd.Flags().GetString("name")
			output, _ := cmd.Flags().GetString("output")
			return withAuthService(cmd.Context(), func(svc keyAdmin) error {
				return createAPIKey(cmd.Context(), svc, cmd.OutOrStdout(), identity, name, output)
			})
		},
	}

	cmd.Flags().StringP("identity", "i", "", "Identity the key authenticates as (required)")
	cmd.Flags().StringP("name", "n", "", "API key name (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("identity")
	cmd.MarkFlagRequired("name")

	return cmd
}

func createAPIKey(ctx context.Context, svc keyAdmin, w io.Writer, identity, name, output string) error {
	token, err := svc.CreateAPIKey(ctx, identity, name)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	if output == "json" {
		return printJSON(w, map[string]any{
			"identity": identity,
			"name":     name,
			"token":    token,
		})
	}

	fmt.Fprintf(w, "API key created for identity %s\n", identity)
	fmt.Fprintf(w, "Key Name: %s\n", name)
	fmt.Fprintf(w, "Token: %s\n", token)
	fmt.Fprintln(w, "\nSave this token now. You won't be able to see it again!")
	return nil
}

func APIKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")
			output, _ := cmd.Flags().GetString("output")
			return withAuthService(cmd.Context(), func(svc keyAdmin) error {
				return listAPIKeys(cmd.Context(), svc, cmd.OutOrStdout(), identity, output)
			})
		},
	}

	cmd.Flags().StringP("identity", "i", "", "Identity whose keys to list (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("identity")

	return cmd
}

func listAPIKeys(ctx context.Context, svc keyAdmin, w io.Writer, identity, output string) error {
	keys, err := svc.ListAPIKeys(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if output == "json" {
		items := make([]map[string]any, len(keys))
		for i, key := range keys {
			items[i] = map[string]any{
				"id":         key.ID,
				"name":       key.Name,
				"identity":   key.Identity,
				"created_at": key.CreatedAt,
				"revoked_at": key.RevokedAt,
				"revoked":    key.IsRevoked(),
			}
		}
		return printJSON(w, map[string]any{"items": items})
	}

	if len(keys) == 0 {
		fmt.Fprintf(w, "No API keys found for identity %s\n", identity)
		return nil
	}
	fmt.Fprintf(w, "API keys for identity %s:\n", identity)
	for _, key := range keys {
		status := "active"
		if key.IsRevoked() {
			status = "revoked"
		}
		fmt.Fprintf(w, "  %s: %s (%s, created: %s)\n", key.ID, key.Name, status, key.CreatedAt.Format(time.DateTime))
	}
	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key by its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return withAuthService(cmd.Context(), func(svc keyAdmin) error {
				return revokeAPIKey(cmd.Context(), svc, cmd.OutOrStdout(), args[0], output)
			})
		},
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")

	return cmd
}

func revokeAPIKey(ctx context.Context, svc keyAdmin, w io.Writer, keyID, output string) error {
	if err := svc.RevokeAPIKey(ctx, keyID); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if output == "json" {
		return printJSON(w, map[string]any{
			"id":      keyID,
			"revoked": true,
		})
	}
	fmt.Fprintf(w, "API key %s revoked successfully\n", keyID)
	return nil
}
