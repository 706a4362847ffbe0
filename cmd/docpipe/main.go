package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/docpipe/internal/cli"
	"github.com/cloo-solutions/docpipe/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "docpipe",
		Short: "docpipe CLI - upload, process and inspect documents",
		Long: `docpipe CLI talks to a docpiped server to upload documents, run the
extract/clean/chunk/embed/index pipeline and curate the resulting chunks.

Environment variables:
  DOCPIPE_API_KEY   API key for authentication (required)
  DOCPIPE_API_URL   API base URL (default: http://localhost:8080)`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AuthCmd())
	rootCmd.AddCommand(client.ConfigCmd())
	rootCmd.AddCommand(client.CollectionCmd())
	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.ProcessCmd())
	rootCmd.AddCommand(client.StatusCmd())
	rootCmd.AddCommand(client.JobCmd())
	rootCmd.AddCommand(client.ChunksCmd())
	rootCmd.AddCommand(client.ChunkCmd())
	rootCmd.AddCommand(client.DeleteCmd())
	rootCmd.AddCommand(client.ProviderKeyCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
