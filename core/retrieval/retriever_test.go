package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siherrmann/webgraph/core/pipeline"
	"github.com/siherrmann/webgraph/core/store"
	"github.com/siherrmann/webgraph/core/worker"
	"github.com/siherrmann/webgraph/database"
	"github.com/siherrmann/webgraph/metrics"
	"github.com/siherrmann/webgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	requested  int
	candidates []*model.Candidate
	err        error
}

func (s *fakeSearcher) Search(ctx context.Context, query []float32, topK int) ([]*model.Candidate, error) {
	s.requested = topK
	if s.err != nil {
		return nil, s.err
	}
	if len(s.candidates) > topK {
		return s.candidates[:topK], nil
	}
	return s.candidates, nil
}

func constantEmbedder() pipeline.Embedder {
	return pipeline.FuncEmbedder{Embed: func(texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 0}
		}
		return vectors, nil
	}}
}

func candidates(n int) []*model.Candidate {
	result := make([]*model.Candidate, n)
	for i := range result {
		result[i] = &model.Candidate{
			ID:    int64(i),
			Text:  fmt.Sprintf("text %d", i),
			Score: 1 - float32(i)*0.01,
		}
	}
	return result
}

// reverseScores prefers later candidates.
var reverseScores = ScoreFunc(func(query string, texts []string) ([]float32, error) {
	scores := make([]float32, len(texts))
	for i := range texts {
		scores[i] = float32(i)
	}
	return scores, nil
})

func newRetriever(searcher Searcher, reranker Reranker) *HybridRetriever {
	return NewHybridRetriever(constantEmbedder(), searcher, reranker, worker.NewPool(2), model.DefaultQueryConfig(), time.Minute, time.Minute, nil)
}

func TestRetrieve(t *testing.T) {
	t.Run("Valid call Retrieve over-fetches and reranks", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(20)}
		retriever := newRetriever(searcher, reverseScores)

		results, err := retriever.Retrieve(context.Background(), "query", 5)
		require.NoError(t, err, "Expected Retrieve to not return an error")
		assert.Equal(t, 15, searcher.requested, "Expected three times topK candidates to be requested")
		require.Len(t, results, 5, "Expected topK results")

		ids := []int64{}
		for _, r := range results {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []int64{14, 13, 12, 11, 10}, ids, "Expected results in reranker order")
		assert.Equal(t, float32(14), results[0].RerankScore)
	})

	t.Run("Reranker ties keep similarity order", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(4)}
		retriever := newRetriever(searcher, ScoreFunc(func(query string, texts []string) ([]float32, error) {
			return make([]float32, len(texts)), nil
		}))

		results, err := retriever.Retrieve(context.Background(), "query", 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, int64(0), results[0].ID, "Expected stable order on equal scores")
		assert.Equal(t, int64(2), results[2].ID)
	})

	t.Run("Default topK", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(20)}
		retriever := newRetriever(searcher, reverseScores)

		results, err := retriever.Retrieve(context.Background(), "query", 0)
		require.NoError(t, err)
		assert.Len(t, results, 5, "Expected the default of 5 results")
	})

	t.Run("Fewer candidates than topK", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(2)}
		retriever := newRetriever(searcher, reverseScores)

		results, err := retriever.Retrieve(context.Background(), "query", 5)
		require.NoError(t, err)
		assert.Len(t, results, 2, "Expected all candidates")
	})

	t.Run("Empty store gives empty result", func(t *testing.T) {
		retriever := newRetriever(&fakeSearcher{}, reverseScores)

		results, err := retriever.Retrieve(context.Background(), "query", 5)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("Embedding failure gives empty result", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(5)}
		embedder := pipeline.FuncEmbedder{Embed: func(texts []string) ([][]float32, error) {
			return nil, errors.New("model not loaded")
		}}
		retriever := NewHybridRetriever(embedder, searcher, reverseScores, worker.NewPool(1), model.DefaultQueryConfig(), time.Minute, time.Minute, nil)

		results, err := retriever.Retrieve(context.Background(), "query", 5)
		require.NoError(t, err, "Expected embedding failures to not return an error")
		assert.Empty(t, results)
		assert.Equal(t, 0, searcher.requested, "Expected no search")
	})

	t.Run("Store failure is returned", func(t *testing.T) {
		searcher := &fakeSearcher{err: fmt.Errorf("%w: redis down", model.ErrDependencyUnavailable)}
		retriever := newRetriever(searcher, reverseScores)

		_, err := retriever.Retrieve(context.Background(), "query", 5)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrDependencyUnavailable)
	})

	t.Run("Reranker failure falls back to similarity order", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.RerankFallbacks)
		searcher := &fakeSearcher{candidates: candidates(10)}
		retriever := newRetriever(searcher, ScoreFunc(func(query string, texts []string) ([]float32, error) {
			return nil, errors.New("reranker crashed")
		}))

		results, err := retriever.Retrieve(context.Background(), "query", 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, int64(0), results[0].ID, "Expected similarity order")
		assert.Equal(t, results[0].Score, results[0].RerankScore, "Expected rerank score to mirror similarity")
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.RerankFallbacks), "Expected fallback to be counted")
	})

	t.Run("Reranker with wrong score count falls back", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(6)}
		retriever := newRetriever(searcher, ScoreFunc(func(query string, texts []string) ([]float32, error) {
			return []float32{1}, nil
		}))

		results, err := retriever.Retrieve(context.Background(), "query", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, int64(0), results[0].ID)
	})

	t.Run("Without reranker similarity order is kept", func(t *testing.T) {
		searcher := &fakeSearcher{candidates: candidates(6)}
		retriever := newRetriever(searcher, nil)

		results, err := retriever.Retrieve(context.Background(), "query", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, int64(0), results[0].ID)
	})
}

func TestRetrieveWithVectorStore(t *testing.T) {
	s, err := store.NewVectorStore(database.NewMemoryMetadataDBHandler(), t.TempDir()+"/index.msgpack", nil)
	require.NoError(t, err)

	chunks := []*model.Chunk{
		model.NewChunk("https://example.com/go", "Go", "Go has goroutines", []float32{1, 0, 0}),
		model.NewChunk("https://example.com/rust", "Rust", "Rust has ownership", []float32{0, 1, 0}),
		model.NewChunk("https://example.com/zig", "Zig", "Zig has comptime", []float32{0.7, 0.7, 0}),
	}
	_, err = s.Upsert(context.Background(), chunks)
	require.NoError(t, err)

	embedder := pipeline.FuncEmbedder{Embed: func(texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}}
	// Prefer the text mentioning ownership regardless of vector similarity.
	reranker := ScoreFunc(func(query string, texts []string) ([]float32, error) {
		scores := make([]float32, len(texts))
		for i, text := range texts {
			if text == "Rust has ownership" {
				scores[i] = 10
			}
		}
		return scores, nil
	})
	retriever := NewHybridRetriever(embedder, s, reranker, worker.NewPool(1), model.DefaultQueryConfig(), time.Minute, time.Minute, nil)

	results, err := retriever.Retrieve(context.Background(), "ownership", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/rust", results[0].PageURL, "Expected reranker to promote the rust page")
	assert.Equal(t, "https://example.com/go", results[1].PageURL, "Expected stable similarity order among equal rerank scores")
}
