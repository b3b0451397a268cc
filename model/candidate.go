package model

// Candidate is a chunk returned by vector search, optionally reranked.
type Candidate struct {
	ID          int64   `json:"id"`
	UUID        string  `json:"uuid"`
	PageURL     string  `json:"page_url"`
	Title       string  `json:"title"`
	Text        string  `json:"text"`
	Score       float32 `json:"score"`                  // inner product of unit vectors
	RerankScore float32 `json:"rerank_score,omitempty"` // set by the reranker
}

// NewCandidate joins an index hit with its metadata record.
func NewCandidate(id int64, score float32, record MetadataRecord) *Candidate {
	return &Candidate{
		ID:      id,
		UUID:    record.UUID,
		PageURL: record.PageURL,
		Title:   record.Title,
		Text:    record.Text,
		Score:   score,
	}
}
