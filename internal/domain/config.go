package domain

import "fmt"

// SplitterKind selects a chunking strategy.
type SplitterKind string

const (
	SplitterRecursive SplitterKind = "recursive"
	SplitterCharacter SplitterKind = "character"
	SplitterToken     SplitterKind = "token"
	SplitterMarkdown  SplitterKind = "markdown"
)

// EmbeddingType selects the embedding provider variant.
type EmbeddingType string

const (
	EmbeddingTypeLocal  EmbeddingType = "local"
	EmbeddingTypeRemote EmbeddingType = "remote"
)

const (
	DefaultEncoding     = "utf-8"
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators is the recursive splitter's separator list when none is given.
var DefaultSeparators = []string{"\n\n"}

type LoaderConfig struct {
	Encoding string `json:"encoding" toml:"encoding"`
}

// CleanConfig toggles the cleaning filters. Filters always run in field order.
type CleanConfig struct {
	CleanText             bool `json:"clean_text" toml:"clean_text"`
	RemoveURLs            bool `json:"remove_urls" toml:"remove_urls"`
	RemoveEmails          bool `json:"remove_emails" toml:"remove_emails"`
	RemoveExtraWhitespace bool `json:"remove_extra_whitespace" toml:"remove_extra_whitespace"`
	RemoveSpecialChars    bool `json:"remove_special_chars" toml:"remove_special_chars"`
}

type SplitterConfig struct {
	TextSplitter SplitterKind `json:"text_splitter" toml:"text_splitter"`
	ChunkSize    int          `json:"chunk_size" toml:"chunk_size"`
	ChunkOverlap int          `json:"chunk_overlap" toml:"chunk_overlap"`
	Separators   []string     `json:"separators" toml:"separators"`
}

// EmbeddingConfig selects the provider. APIKey is a per-request credential and
// is never persisted.
type EmbeddingConfig struct {
	Type     EmbeddingType `json:"type" toml:"type"`
	Model    string        `json:"model,omitempty" toml:"model"`
	Provider string        `json:"provider,omitempty" toml:"provider"`
	APIKey   string        `json:"api_key,omitempty" toml:"api_key"`
}

// ProcessConfig is the configuration bundle for one processing run.
type ProcessConfig struct {
	Loader    LoaderConfig    `json:"loader_config" toml:"loader_config"`
	Clean     CleanConfig     `json:"clean_config" toml:"clean_config"`
	Splitter  SplitterConfig  `json:"splitter_config" toml:"splitter_config"`
	Embedding EmbeddingConfig `json:"embedding_config" toml:"embedding_config"`
}

// DefaultProcessConfig returns the bundle used when a request omits every field.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Loader: LoaderConfig{Encoding: DefaultEncoding},
		Splitter: SplitterConfig{
			TextSplitter: SplitterRecursive,
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			Separators:   append([]string(nil), DefaultSeparators...),
		},
		Embedding: EmbeddingConfig{Type: EmbeddingTypeLocal},
	}
}

// Redacted returns a copy without credentials, suitable for persistence.
func (c ProcessConfig) Redacted() ProcessConfig {
	c.Embedding.APIKey = ""
	c.Splitter.Separators = append([]string(nil), c.Splitter.Separators...)
	return c
}

// Validate checks the parameters that can be rejected before any stage runs.
func (c ProcessConfig) Validate() error {
	if err := c.Splitter.Validate(); err != nil {
		return err
	}
	return c.Embedding.Validate()
}

// Validate checks chunking preconditions.
func (s SplitterConfig) Validate() error {
	if s.ChunkSize <= 0 {
		return NewConfigError(fmt.Sprintf("chunk_size must be positive, got %d", s.ChunkSize))
	}
	if s.ChunkOverlap < 0 {
		return NewConfigError(fmt.Sprintf("chunk_overlap cannot be negative, got %d", s.ChunkOverlap))
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return NewConfigError(fmt.Sprintf("chunk_overlap (%d) must be smaller than chunk_size (%d)", s.ChunkOverlap, s.ChunkSize))
	}
	if !IsValidSplitterKind(s.TextSplitter) {
		return NewConfigError(fmt.Sprintf("unknown text_splitter %q", s.TextSplitter))
	}
	return nil
}

func (e EmbeddingConfig) Validate() error {
	switch e.Type {
	case EmbeddingTypeLocal, EmbeddingTypeRemote:
		return nil
	}
	return NewConfigError(fmt.Sprintf("unknown embedding type %q", e.Type))
}

func IsValidSplitterKind(k SplitterKind) bool {
	switch k {
	case SplitterRecursive, SplitterCharacter, SplitterToken, SplitterMarkdown:
		return true
	}
	return false
}
