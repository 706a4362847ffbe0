package domain

import "time"

// Chunk is an ordered segment of a document's cleaned text. Only Enabled and
// Tags change after creation.
type Chunk struct {
	ID         int64
	DocumentID string
	ChunkIndex int
	Content    string
	Tags       []string
	Enabled    bool
	Generation string
	CreatedAt  time.Time
}

// NewChunks builds a contiguous chunk generation for a document.
func NewChunks(documentID, generation string, contents []string, createdAt time.Time) []Chunk {
	chunks := make([]Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = Chunk{
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    content,
			Tags:       []string{},
			Enabled:    true,
			Generation: generation,
			CreatedAt:  createdAt,
		}
	}
	return chunks
}

// ChunkFilter narrows chunk listings. Nil/empty fields do not filter.
type ChunkFilter struct {
	Enabled *bool
	Tag     string
}

// HasTag reports whether the chunk carries tag.
func (c *Chunk) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
