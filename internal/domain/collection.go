package domain

import (
	"fmt"
	"time"
)

// CollectionType is the kind of documents a collection is meant to hold.
type CollectionType string

const (
	CollectionTypeDoc CollectionType = "doc"
	CollectionTypeXLS CollectionType = "xls"
)

// Collection groups documents (a knowledge base). EmbeddingConfig records the
// last processing bundle used for any of its documents.
type Collection struct {
	ID              string
	Name            string
	Type            CollectionType
	EmbeddingConfig *ProcessConfig
	CreatedAt       time.Time
}

// NewCollection creates a new Collection instance
func NewCollection(id, name string, collectionType CollectionType, createdAt time.Time) *Collection {
	return &Collection{
		ID:        id,
		Name:      name,
		Type:      collectionType,
		CreatedAt: createdAt,
	}
}

// ValidateCollection validates a Collection instance
func ValidateCollection(c *Collection) error {
	if c == nil {
		return fmt.Errorf("collection cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("collection ID is required")
	}

	if c.Name == "" {
		return fmt.Errorf("collection Name is required")
	}

	if !IsValidCollectionType(c.Type) {
		return fmt.Errorf("collection Type is invalid: %s", c.Type)
	}

	return nil
}

func IsValidCollectionType(t CollectionType) bool {
	switch t {
	case CollectionTypeDoc, CollectionTypeXLS:
		return true
	}
	return false
}
