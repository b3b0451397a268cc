package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Chunk is a window of page text together with its embedding.
// Chunks are never updated after they were upserted.
type Chunk struct {
	UUID      uuid.UUID `json:"uuid"`
	PageURL   string    `json:"page_url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// NewChunk creates a chunk with a fresh UUID.
func NewChunk(pageURL, title, text string, embedding []float32) *Chunk {
	return &Chunk{
		UUID:      uuid.New(),
		PageURL:   pageURL,
		Title:     title,
		Text:      text,
		Embedding: embedding,
	}
}

// Record returns the metadata stored next to the chunk's index entry.
func (c *Chunk) Record() MetadataRecord {
	return MetadataRecord{
		UUID:    c.UUID.String(),
		PageURL: c.PageURL,
		Title:   c.Title,
		Text:    c.Text,
	}
}

const metadataKeyPrefix = "meta:"

// MetadataKey returns the metadata store key of an index id.
func MetadataKey(id int64) string {
	return metadataKeyPrefix + strconv.FormatInt(id, 10)
}

// ParseMetadataKey is the inverse of MetadataKey.
func ParseMetadataKey(key string) (int64, error) {
	if !strings.HasPrefix(key, metadataKeyPrefix) {
		return 0, fmt.Errorf("key %q has no %q prefix", key, metadataKeyPrefix)
	}
	return strconv.ParseInt(strings.TrimPrefix(key, metadataKeyPrefix), 10, 64)
}
