package client

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// ChunksCmd lists a document's chunks.
func ChunksCmd() *cobra.Command {
	var (
		enabled string
		tag     string
		full    bool
	)

	cmd := &cobra.Command{
		Use:   "chunks <document_id>",
		Short: "List a document's chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if enabled != "" {
				if _, err := strconv.ParseBool(enabled); err != nil {
					return fmt.Errorf("--enabled must be true or false")
				}
				query.Set("enabled", enabled)
			}
			if tag != "" {
				query.Set("tag", tag)
			}

			path := "/documents/" + url.PathEscape(args[0]) + "/chunks"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("failed to list chunks: %w", err)
			}

			var chunks []Chunk
			if err := decodeData(resp, &chunks, "chunks"); err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), chunks)
			}
			printChunks(cmd.OutOrStdout(), chunks, full)
			return nil
		},
	}

	cmd.Flags().StringVar(&enabled, "enabled", "", "Filter by enabled flag (true or false)")
	cmd.Flags().StringVar(&tag, "tag", "", "Only chunks carrying this tag")
	cmd.Flags().BoolVar(&full, "full", false, "Print full chunk content")

	return cmd
}

const previewRunes = 80

func printChunks(w io.Writer, chunks []Chunk, full bool) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No chunks")
		return
	}
	for _, c := range chunks {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "#%d (id %d, %s)", c.ChunkIndex, c.ID, state)
		if len(c.Tags) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(c.Tags, ", "))
		}
		fmt.Fprintln(w)

		content := c.Content
		if !full {
			content = preview(content)
		}
		fmt.Fprintf(w, "  %s\n", content)
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "..."
}

// ChunkCmd edits a single chunk's flags and tags.
func ChunkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Enable, disable or tag a chunk",
	}

	cmd.AddCommand(chunkToggleCmd("enable", true))
	cmd.AddCommand(chunkToggleCmd("disable", false))
	cmd.AddCommand(chunkTagCmd())

	return cmd
}

func chunkToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <chunk_id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchChunk(cmd, args[0], map[string]any{"enabled": enabled})
		},
	}
}

func chunkTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <chunk_id> [tag...]",
		Short: "Replace a chunk's tags (no tags clears them)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := args[1:]
			if tags == nil {
				tags = []string{}
			}
			return patchChunk(cmd, args[0], map[string]any{"tags": tags})
		},
	}
}

func patchChunk(cmd *cobra.Command, id string, body map[string]any) error {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return fmt.Errorf("chunk id must be an integer")
	}

	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}
	resp, err := api.Patch(cmd.Context(), "/chunks/"+id, body)
	if err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}

	var chunk Chunk
	if err := decodeData(resp, &chunk, "chunk"); err != nil {
		return err
	}
	if wantJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), chunk)
	}
	printChunks(cmd.OutOrStdout(), []Chunk{chunk}, false)
	return nil
}

// ProviderKeyCmd stores the caller's own remote embedding credentials.
func ProviderKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider-key",
		Short: "Manage your embedding provider keys",
	}

	var key string
	set := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a provider key for the authenticated identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read key from stdin: %w", err)
				}
				key = strings.TrimSpace(string(data))
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Put(cmd.Context(), "/provider-keys/"+url.PathEscape(args[0]), map[string]string{"api_key": key}); err != nil {
				return fmt.Errorf("failed to store provider key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key\n", args[0])
			return nil
		},
	}
	set.Flags().StringVarP(&key, "key", "k", "", "Provider API key (reads stdin when empty)")

	del := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored provider key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Delete(cmd.Context(), "/provider-keys/"+url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("failed to delete provider key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s key\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
