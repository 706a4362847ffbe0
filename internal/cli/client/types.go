package client

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Collection mirrors the collection payload returned by the API.
type Collection struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	EmbeddingConfig json.RawMessage `json:"embedding_config,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

// Document mirrors the document payload returned by the API.
type Document struct {
	ID              string `json:"id"`
	CollectionID    string `json:"collection_id"`
	Filename        string `json:"filename"`
	Status          string `json:"status"`
	CharCount       int    `json:"char_count"`
	FailedStage     string `json:"failed_stage,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	VectorStorePath string `json:"vector_store_path,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type Job struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Status      string `json:"status"`
	Retries     int32  `json:"retries"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type Chunk struct {
	ID         int64    `json:"id"`
	DocumentID string   `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Enabled    bool     `json:"enabled"`
	Generation string   `json:"generation"`
}

// ProcessResult is the outcome of a synchronous process call.
type ProcessResult struct {
	DocumentID      string `json:"document_id"`
	ChunkCount      int    `json:"chunk_count"`
	EmbeddingModel  string `json:"embedding_model"`
	EmbeddingType   string `json:"embedding_type"`
	VectorStorePath string `json:"vector_store_path"`
}

func decodeData(resp *APIResponse, v any, what string) error {
	if err := json.Unmarshal(resp.Data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", what, err)
	}
	return nil
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("output")
	return v
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printDocument(w io.Writer, d *Document) {
	fmt.Fprintf(w, "ID: %s\n", d.ID)
	fmt.Fprintf(w, "Collection: %s\n", d.CollectionID)
	fmt.Fprintf(w, "Filename: %s\n", d.Filename)
	fmt.Fprintf(w, "Status: %s\n", d.Status)
	if d.CharCount > 0 {
		fmt.Fprintf(w, "Characters: %d\n", d.CharCount)
	}
	if d.FailedStage != "" {
		fmt.Fprintf(w, "Failed stage: %s\n", d.FailedStage)
		fmt.Fprintf(w, "Reason: %s\n", d.FailureReason)
	}
	if d.VectorStorePath != "" {
		fmt.Fprintf(w, "Vector store: %s\n", d.VectorStorePath)
	}
	fmt.Fprintf(w, "Updated: %s\n", d.UpdatedAt)
}

func printJob(w io.Writer, j *Job) {
	fmt.Fprintf(w, "Job: %s\n", j.ID)
	fmt.Fprintf(w, "Document: %s\n", j.DocumentID)
	fmt.Fprintf(w, "Status: %s\n", j.Status)
	if j.Retries > 0 {
		fmt.Fprintf(w, "Retries: %d\n", j.Retries)
	}
	if j.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", j.Error)
	}
}
