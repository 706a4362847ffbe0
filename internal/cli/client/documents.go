package client

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// CollectionCmd groups collection management commands.
func CollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage collections",
	}

	cmd.AddCommand(collectionCreateCmd())
	cmd.AddCommand(collectionGetCmd())
	cmd.AddCommand(collectionDocsCmd())

	return cmd
}

func collectionCreateCmd() *cobra.Command {
	var collectionType string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Post(cmd.Context(), "/collections", map[string]string{
				"name": args[0],
				"type": collectionType,
			})
			if err != nil {
				return fmt.Errorf("failed to create collection: %w", err)
			}

			var col Collection
			if err := decodeData(resp, &col, "collection"); err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), col)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created collection %s (%s, type %s)\n", col.ID, col.Name, col.Type)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collectionType, "type", "t", "doc", "Collection type (doc or xls)")

	return cmd
}

func collectionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection_id>",
		Short: "Show a collection and its last embedding configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get(cmd.Context(), "/collections/"+url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("failed to get collection: %w", err)
			}

			var col Collection
			if err := decodeData(resp, &col, "collection"); err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), col)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID: %s\nName: %s\nType: %s\nCreated: %s\n", col.ID, col.Name, col.Type, col.CreatedAt)
			if len(col.EmbeddingConfig) > 0 && string(col.EmbeddingConfig) != "null" {
				fmt.Fprintf(w, "Last config: %s\n", col.EmbeddingConfig)
			}
			return nil
		},
	}
}

type documentPage struct {
	Items   []Document `json:"items"`
	Cursor  string     `json:"cursor,omitempty"`
	HasMore bool       `json:"has_more"`
}

func collectionDocsCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "docs [collection_id]",
		Short: "List the documents in a collection",
		Long:  "Lists the documents in a collection. Without an ID the stored default collection is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collectionID, err := collectionFromArgs(args, 1)
			if err != nil {
				return err
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			path := "/collections/" + url.PathEscape(collectionID) + "/documents"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			resp, err := api.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}

			var page documentPage
			if err := decodeData(resp, &page, "documents"); err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), page)
			}

			w := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(w, "No documents")
				return nil
			}
			for _, d := range page.Items {
				fmt.Fprintf(w, "%s  %-10s  %s\n", d.ID, d.Status, d.Filename)
			}
			if page.HasMore {
				fmt.Fprintf(w, "\nMore results: --cursor %s\n", page.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of documents to return")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")

	return cmd
}

// collectionFromArgs returns args[0] when len(args) == full, meaning the
// optional collection ID was given, otherwise the stored default collection.
func collectionFromArgs(args []string, full int) (string, error) {
	if len(args) == full {
		return args[0], nil
	}
	return defaultCollection()
}

// UploadCmd uploads a local file into a collection.
func UploadCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "upload [collection_id] <file>",
		Short: "Upload a document",
		Long: `Uploads a local file into a collection. Without a collection ID the stored
default collection is used. The document starts in the uploaded state; run
'docpipe process' to index it.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collectionID, err := collectionFromArgs(args, 2)
			if err != nil {
				return err
			}
			filePath := args[len(args)-1]

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			var progress ProgressFunc
			if !quiet && !wantJSON(cmd) {
				progress = func(current, total int64) {
					if total > 0 {
						fmt.Fprintf(os.Stderr, "\rUploading... %d%%", current*100/total)
					}
				}
			}

			resp, err := api.UploadFile(cmd.Context(), "/collections/"+url.PathEscape(collectionID)+"/documents", filePath, progress)
			if progress != nil {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return fmt.Errorf("failed to upload document: %w", err)
			}

			var doc Document
			if err := decodeData(resp, &doc, "document"); err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as document %s\n", doc.Filename, doc.ID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print upload progress")

	return cmd
}

// StatusCmd shows a document's lifecycle status.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <document_id>",
		Short: "Show a document's processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("failed to get document: %w", err)
			}

			var doc Document
			if err := decodeData(resp, &doc, "document"); err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			printDocument(cmd.OutOrStdout(), &doc)
			return nil
		},
	}
}

// DeleteCmd removes a document together with its chunks and vectors.
func DeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document_id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			if _, err := api.Delete(cmd.Context(), "/documents/"+url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}

			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"id": args[0], "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %s\n", args[0])
			return nil
		},
	}
}
