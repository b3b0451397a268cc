package pipeline

import (
	"context"

	"github.com/siherrmann/webgraph/model"
)

// ChunkFunc is a function that splits text into chunk texts
type ChunkFunc func(text string) ([]string, error)

// EmbedFunc is a function that generates embeddings for a batch of texts
type EmbedFunc func(texts []string) ([][]float32, error)

// ExtractFunc turns the HTML of a page into its readable article
type ExtractFunc func(pageURL string, html string) (model.Article, error)

// Embedder produces dense vectors. EmbedOne serves the single-chunk path,
// EmbedMany one batch of a multi-chunk page.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline combines extraction, chunking and embedding
type Pipeline struct {
	Extractor ExtractFunc
	Chunker   ChunkFunc
	Embedder  Embedder
}

// NewPipeline creates a new processing pipeline
func NewPipeline(extractor ExtractFunc, chunker ChunkFunc, embedder Embedder) *Pipeline {
	return &Pipeline{
		Extractor: extractor,
		Chunker:   chunker,
		Embedder:  embedder,
	}
}
