package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/siherrmann/webgraph/core/pipeline"
	"github.com/siherrmann/webgraph/core/worker"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/metrics"
	"github.com/siherrmann/webgraph/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Searcher finds the chunks closest to a query vector.
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int) ([]*model.Candidate, error)
}

// HybridRetriever combines vector search with cross-encoder reranking.
type HybridRetriever struct {
	embedder      pipeline.Embedder
	store         Searcher
	reranker      Reranker
	pool          *worker.Pool
	config        model.QueryConfig
	embedTimeout  time.Duration
	rerankTimeout time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewHybridRetriever creates a retriever. Without a reranker results keep
// their similarity order.
func NewHybridRetriever(
	embedder pipeline.Embedder,
	store Searcher,
	reranker Reranker,
	pool *worker.Pool,
	config model.QueryConfig,
	embedTimeout time.Duration,
	rerankTimeout time.Duration,
	logger *slog.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		embedder:      embedder,
		store:         store,
		reranker:      reranker,
		pool:          pool,
		config:        config,
		embedTimeout:  embedTimeout,
		rerankTimeout: rerankTimeout,
		logger:        logger,
		tracer:        otel.Tracer("github.com/siherrmann/webgraph/core/retrieval"),
	}
}

// Retrieve returns up to topK chunks for query. It fetches OverFetchFactor
// times topK candidates by vector similarity and reorders them with the
// reranker. A query that cannot be embedded gives an empty result.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]*model.Candidate, error) {
	if topK <= 0 {
		topK = r.config.TopK
	}
	factor := max(r.config.OverFetchFactor, 1)

	ctx, span := r.tracer.Start(ctx, "HybridRetriever.Retrieve", trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	start := time.Now()
	vector, err := r.embedQuery(ctx, query)
	metrics.RetrievalDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Error("Failed to embed query", slog.Any("error", err))
		span.RecordError(err)
		return []*model.Candidate{}, nil
	}
	if len(vector) == 0 {
		r.logger.Error("Embedding model returned an empty query vector")
		return []*model.Candidate{}, nil
	}

	start = time.Now()
	candidates, err := r.store.Search(ctx, vector, factor*topK)
	metrics.RetrievalDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, helper.NewError("search", err)
	}
	if len(candidates) == 0 {
		return []*model.Candidate{}, nil
	}

	start = time.Now()
	candidates = r.rerank(ctx, query, candidates)
	metrics.RetrievalDuration.WithLabelValues("rerank").Observe(time.Since(start).Seconds())

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	span.SetAttributes(attribute.Int("results", len(candidates)))

	return candidates, nil
}

func (r *HybridRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.embedTimeout)
		defer cancel()
	}
	return worker.Submit(ctx, r.pool, func(ctx context.Context) ([]float32, error) {
		return r.embedder.EmbedOne(ctx, query)
	})
}

// rerank orders candidates by reranker score. If the reranker is missing or
// fails the similarity order is kept and RerankScore mirrors Score.
func (r *HybridRetriever) rerank(ctx context.Context, query string, candidates []*model.Candidate) []*model.Candidate {
	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("Reranking failed, keeping similarity order", slog.Any("error", err))
		metrics.RerankFallbacks.Inc()
	}
	if scores == nil {
		for _, c := range candidates {
			c.RerankScore = c.Score
		}
		return candidates
	}

	for i, c := range candidates {
		c.RerankScore = scores[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RerankScore > candidates[j].RerankScore
	})
	return candidates
}

func (r *HybridRetriever) score(ctx context.Context, query string, candidates []*model.Candidate) ([]float32, error) {
	if r.reranker == nil {
		return nil, nil
	}
	if r.rerankTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.rerankTimeout)
		defer cancel()
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	scores, err := worker.Submit(ctx, r.pool, func(ctx context.Context) ([]float32, error) {
		return r.reranker.Score(ctx, query, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("got %d scores for %d candidates", len(scores), len(candidates))
	}
	return scores, nil
}
