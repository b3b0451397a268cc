package model

// IngestionConfig controls how pages are cut into chunks and embedded.
type IngestionConfig struct {
	ChunkSize          int `json:"chunk_size"`    // tokens per chunk
	ChunkOverlap       int `json:"chunk_overlap"` // tokens shared by neighbouring chunks
	EmbeddingBatchSize int `json:"embedding_batch_size"`
}

// DefaultIngestionConfig returns windows of 800 tokens with a stride of 700.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		ChunkSize:          800,
		ChunkOverlap:       100,
		EmbeddingBatchSize: 32,
	}
}

// Stride is the distance between the starts of two neighbouring chunks.
func (c IngestionConfig) Stride() int {
	return c.ChunkSize - c.ChunkOverlap
}

// QueryConfig represents configuration for a retrieval query
type QueryConfig struct {
	TopK            int `json:"top_k"`
	OverFetchFactor int `json:"over_fetch_factor"` // vector hits fetched per result before reranking
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		TopK:            5,
		OverFetchFactor: 3,
	}
}

// CrawlConfig limits a crawl started by an ingestion job.
type CrawlConfig struct {
	MaxPages int `json:"max_pages"`
	MaxDepth int `json:"max_depth"`
}

func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxPages: 20,
		MaxDepth: 2,
	}
}
