package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const (
	jobStatusCompleted = "completed"
	jobStatusFailed    = "failed"
)

type processFlags struct {
	configPath   string
	splitter     string
	chunkSize    int
	chunkOverlap int
	embedType    string
	model        string
	provider     string
	async        bool
	wait         bool
	pollInterval time.Duration
}

// ProcessCmd runs or queues the pipeline for a document.
func ProcessCmd() *cobra.Command {
	var f processFlags

	cmd := &cobra.Command{
		Use:   "process <document_id>",
		Short: "Extract, chunk, embed and index a document",
		Long: `Runs the ingestion pipeline for a document.

The configuration starts from the server defaults, is overlaid with the TOML
file given by --config (same keys as the JSON body: [loader_config],
[clean_config], [splitter_config], [embedding_config]) and finally with any
explicit flags. Without --config the file stored with
'docpipe config set process-config' is used, if any.

With --async the run is queued and the job is printed; add --wait to poll
the job until it finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildProcessConfig(cmd, f)
			if err != nil {
				return err
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			return runProcess(cmd, api, args[0], cfg, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "TOML file with the process configuration")
	cmd.Flags().StringVar(&f.splitter, "splitter", "", "Text splitter (character, recursive, token, markdown)")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Chunk size")
	cmd.Flags().IntVar(&f.chunkOverlap, "chunk-overlap", 0, "Chunk overlap")
	cmd.Flags().StringVar(&f.embedType, "embedding-type", "", "Embedding type (local or remote)")
	cmd.Flags().StringVar(&f.model, "model", "", "Embedding model")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Remote embedding provider")
	cmd.Flags().BoolVar(&f.async, "async", false, "Queue the run instead of waiting for it")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "With --async, poll the job until it finishes")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 2*time.Second, "Polling interval for --wait")

	return cmd
}

// loadProcessConfig overlays the TOML file at path onto the defaults.
func loadProcessConfig(path string) (domain.ProcessConfig, error) {
	cfg := domain.DefaultProcessConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, fmt.Errorf("invalid config %s: %s", path, strict.String())
		}
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func buildProcessConfig(cmd *cobra.Command, f processFlags) (domain.ProcessConfig, error) {
	path := f.configPath
	if path == "" {
		s, err := LoadSettings()
		if err != nil {
			return domain.ProcessConfig{}, err
		}
		path = s.ProcessConfig
	}

	cfg, err := loadProcessConfig(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("splitter") {
		cfg.Splitter.TextSplitter = domain.SplitterKind(f.splitter)
	}
	if flags.Changed("chunk-size") {
		cfg.Splitter.ChunkSize = f.chunkSize
	}
	if flags.Changed("chunk-overlap") {
		cfg.Splitter.ChunkOverlap = f.chunkOverlap
	}
	if flags.Changed("embedding-type") {
		cfg.Embedding.Type = domain.EmbeddingType(f.embedType)
	}
	if flags.Changed("model") {
		cfg.Embedding.Model = f.model
	}
	if flags.Changed("provider") {
		cfg.Embedding.Provider = f.provider
	}

	if f.wait && !f.async {
		return cfg, fmt.Errorf("--wait requires --async")
	}
	return cfg, nil
}

func runProcess(cmd *cobra.Command, api *APIClient, documentID string, cfg domain.ProcessConfig, f processFlags) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	path := "/documents/" + url.PathEscape(documentID) + "/process"

	if !f.async {
		resp, err := api.Post(ctx, path, cfg)
		if err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
		var result ProcessResult
		if err := decodeData(resp, &result, "process result"); err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(w, result)
		}
		fmt.Fprintf(w, "Document %s is ready: %d chunks embedded with %s (%s)\n",
			result.DocumentID, result.ChunkCount, result.EmbeddingModel, result.EmbeddingType)
		if result.VectorStorePath != "" {
			fmt.Fprintf(w, "Vector store: %s\n", result.VectorStorePath)
		}
		return nil
	}

	resp, err := api.Post(ctx, path+"?async=true", cfg)
	if err != nil {
		return fmt.Errorf("failed to queue processing: %w", err)
	}
	var job Job
	if err := decodeData(resp, &job, "job"); err != nil {
		return err
	}

	if f.wait {
		final, err := waitForJob(ctx, api, job.ID, f.pollInterval)
		if err != nil {
			return err
		}
		job = *final
	}

	if wantJSON(cmd) {
		if err := writeJSON(w, job); err != nil {
			return err
		}
	} else {
		printJob(w, &job)
	}
	if job.Status == jobStatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

// waitForJob polls the job until it reaches a terminal status or ctx ends.
func waitForJob(ctx context.Context, api *APIClient, jobID string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := getJob(ctx, api, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status == jobStatusCompleted || job.Status == jobStatusFailed {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func getJob(ctx context.Context, api *APIClient, jobID string) (*Job, error) {
	resp, err := api.Get(ctx, "/jobs/"+url.PathEscape(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job Job
	if err := decodeData(resp, &job, "job"); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobCmd shows an async processing job.
func JobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job_id>",
		Short: "Show an async processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			job, err := getJob(cmd.Context(), api, args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}
