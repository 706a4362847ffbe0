package admin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ProviderKeyCmd manages identity-scoped remote embedding credentials.
func ProviderKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider-key",
		Short: "Manage embedding provider keys",
		Long:  "Store or remove the remote embedding provider credential used for an identity",
	}

	cmd.AddCommand(providerKeySetCmd())
	cmd.AddCommand(providerKeyDeleteCmd())

	return cmd
}

func providerKeySetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a provider key for an identity",
		Long:  "Store a provider key for an identity. The key is read from --key or, when omitted, from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read key from stdin: %w", err)
				}
				key = strings.TrimSpace(string(data))
			}
			return withAuthService(cmd.Context(), func(svc keyAdmin) error {
				return setProviderKey(cmd.Context(), svc, cmd.OutOrStdout(), identity, args[0], key)
			})
		},
	}

	cmd.Flags().StringP("identity", "i", "", "Identity the key belongs to (required)")
	cmd.Flags().StringP("key", "k", "", "Provider API key (reads stdin when empty)")
	cmd.MarkFlagRequired("identity")

	return cmd
}

func setProviderKey(ctx context.Context, svc keyAdmin, w io.Writer, identity, provider, key string) error {
	if err := svc.SetProviderKey(ctx, identity, provider, key); err != nil {
		return fmt.Errorf("failed to set provider key: %w", err)
	}
	fmt.Fprintf(w, "Stored %s key for identity %s\n", strings.ToLower(provider), identity)
	return nil
}

func providerKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a provider key for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")
			return withAuthService(cmd.Context(), func(svc keyAdmin) error {
				return deleteProviderKey(cmd.Context(), svc, cmd.OutOrStdout(), identity, args[0])
			})
		},
	}

	cmd.Flags().StringP("identity", "i", "", "Identity the key belongs to (required)")
	cmd.MarkFlagRequired("identity")

	return cmd
}

func deleteProviderKey(ctx context.Context, svc keyAdmin, w io.Writer, identity, provider string) error {
	if err := svc.DeleteProviderKey(ctx, identity, provider); err != nil {
		return fmt.Errorf("failed to delete provider key: %w", err)
	}
	fmt.Fprintf(w, "Removed %s key for identity %s\n", strings.ToLower(provider), identity)
	return nil
}
