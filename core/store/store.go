package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/siherrmann/webgraph/core/index"
	"github.com/siherrmann/webgraph/database"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/metrics"
	"github.com/siherrmann/webgraph/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// gateWeight is taken in full by writers and by one unit per reader.
const gateWeight = 1 << 20

// VectorStore joins the in-process vector index with an external metadata
// store. Upsert and Reset hold the gate exclusively, Search shares it.
// Waiters are served in arrival order, so a search started after an upsert
// observes the upserted chunks.
type VectorStore struct {
	gate      *semaphore.Weighted
	index     *index.FlatIndex // nil until the first upsert
	indexPath string
	metadata  database.MetadataDBHandlerFunctions
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewVectorStore creates the store and loads the snapshot at indexPath if
// there is one. An unreadable snapshot is logged and the store starts empty.
// metadata may be nil, in which case Upsert and Search fail with
// model.ErrDependencyUnavailable.
func NewVectorStore(metadata database.MetadataDBHandlerFunctions, indexPath string, logger *slog.Logger) (*VectorStore, error) {
	if indexPath == "" {
		return nil, helper.NewError("index path validation", fmt.Errorf("index path is empty"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &VectorStore{
		gate:      semaphore.NewWeighted(gateWeight),
		indexPath: indexPath,
		metadata:  metadata,
		logger:    logger,
		tracer:    otel.Tracer("github.com/siherrmann/webgraph/core/store"),
	}

	idx, err := index.Load(indexPath)
	switch {
	case err == nil:
		s.index = idx
		logger.Info("Loaded vector index", slog.String("path", indexPath), slog.Int64("vectors", idx.Len()))
	case errors.Is(err, os.ErrNotExist):
		logger.Info("No vector index found, starting empty", slog.String("path", indexPath))
	default:
		logger.Warn("Could not load vector index, starting empty", slog.String("path", indexPath), slog.String("error", err.Error()))
	}
	metrics.IndexedVectors.Set(float64(s.lenLocked()))

	return s, nil
}

// IndexPath returns the location of the snapshot file.
func (s *VectorStore) IndexPath() string {
	return s.indexPath
}

// Len returns the number of indexed vectors.
func (s *VectorStore) Len(ctx context.Context) (int64, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return 0, helper.NewError("acquire", err)
	}
	defer s.gate.Release(1)
	return s.lenLocked(), nil
}

func (s *VectorStore) lenLocked() int64 {
	if s.index == nil {
		return 0
	}
	return s.index.Len()
}

// Upsert assigns consecutive ids to the chunks, writes their metadata, adds
// their normalized embeddings to the index and persists the index snapshot.
// All embeddings must have the dimension of the index; the first upsert
// after creation or reset fixes it.
func (s *VectorStore) Upsert(ctx context.Context, chunks []*model.Chunk) ([]int64, error) {
	if len(chunks) == 0 {
		return []int64{}, nil
	}
	if s.metadata == nil {
		return nil, helper.NewError("metadata store", model.ErrDependencyUnavailable)
	}

	ctx, span := s.tracer.Start(ctx, "VectorStore.Upsert", trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()
	start := time.Now()

	err := s.gate.Acquire(ctx, gateWeight)
	if err != nil {
		return nil, s.fail(span, helper.NewError("acquire", err))
	}
	defer s.gate.Release(gateWeight)

	idx := s.index
	if idx == nil {
		idx, err = index.NewFlatIndex(len(chunks[0].Embedding))
		if err != nil {
			return nil, s.fail(span, helper.NewError("create index", err))
		}
	}

	base := idx.Len()
	ids := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))
	entries := make(map[string][]byte, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Embedding) != idx.Dim() {
			return nil, s.fail(span, helper.NewError("validate chunk", fmt.Errorf("%w: chunk %d has %d dimensions, index has %d", model.ErrDimensionMismatch, i, len(chunk.Embedding), idx.Dim())))
		}

		id := base + int64(i)
		payload, err := json.Marshal(chunk.Record())
		if err != nil {
			return nil, s.fail(span, helper.NewError("marshal metadata", err))
		}

		ids[i] = id
		vectors[i] = index.Normalize(chunk.Embedding)
		entries[model.MetadataKey(id)] = payload
	}

	// Metadata goes first: an index entry must never exist without its record.
	err = s.metadata.SetMany(ctx, entries)
	if err != nil {
		return nil, s.fail(span, helper.NewError("write metadata", fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, err)))
	}

	err = idx.Add(ids, vectors)
	if err != nil {
		return nil, s.fail(span, helper.NewError("add vectors", err))
	}
	s.index = idx
	metrics.IndexedVectors.Set(float64(idx.Len()))

	err = idx.Save(s.indexPath)
	if err != nil {
		return nil, s.fail(span, helper.NewError("save index", err))
	}

	metrics.RecordStoreOperation("upsert", time.Since(start).Seconds())
	s.logger.Debug("Upserted chunks", slog.Int("count", len(chunks)), slog.Int64("first_id", base), slog.Int64("total", idx.Len()))

	return ids, nil
}

// Search returns up to topK chunks ordered by similarity to query. Hits whose
// metadata record is missing are dropped, so fewer than topK results can be
// returned even when the index holds more entries.
func (s *VectorStore) Search(ctx context.Context, query []float32, topK int) ([]*model.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "VectorStore.Search", trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()
	start := time.Now()

	err := s.gate.Acquire(ctx, 1)
	if err != nil {
		return nil, s.fail(span, helper.NewError("acquire", err))
	}
	defer s.gate.Release(1)

	if s.index == nil || s.index.Len() == 0 || topK <= 0 {
		return []*model.Candidate{}, nil
	}
	if s.metadata == nil {
		return nil, s.fail(span, helper.NewError("metadata store", model.ErrDependencyUnavailable))
	}

	hits, err := s.index.Search(index.Normalize(query), topK)
	if err != nil {
		return nil, s.fail(span, helper.NewError("search index", err))
	}

	keys := make([]string, len(hits))
	for i, hit := range hits {
		keys[i] = model.MetadataKey(hit.ID)
	}
	values, err := s.metadata.GetMany(ctx, keys)
	if err != nil {
		return nil, s.fail(span, helper.NewError("read metadata", fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, err)))
	}

	candidates := make([]*model.Candidate, 0, len(hits))
	for i, hit := range hits {
		if values[i] == nil {
			metrics.MetadataMisses.Inc()
			s.logger.Warn("Dropping search hit without metadata", slog.Int64("id", hit.ID))
			continue
		}

		var record model.MetadataRecord
		err := record.Unmarshal(values[i])
		if err != nil {
			metrics.MetadataMisses.Inc()
			s.logger.Warn("Dropping search hit with unreadable metadata", slog.Int64("id", hit.ID), slog.String("error", err.Error()))
			continue
		}
		candidates = append(candidates, model.NewCandidate(hit.ID, hit.Score, record))
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	metrics.RecordStoreOperation("search", time.Since(start).Seconds())

	return candidates, nil
}

// Reset drops the index, deletes the snapshot file and clears the metadata
// store. All three happen under the write gate, so an upsert queued behind
// Reset writes a fresh snapshot that stays on disk. The next upsert starts
// numbering at id 0 again.
func (s *VectorStore) Reset(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "VectorStore.Reset")
	defer span.End()
	start := time.Now()

	err := s.gate.Acquire(ctx, gateWeight)
	if err != nil {
		return s.fail(span, helper.NewError("acquire", err))
	}
	defer s.gate.Release(gateWeight)

	s.index = nil
	metrics.IndexedVectors.Set(0)

	err = os.Remove(s.indexPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.fail(span, helper.NewError("remove snapshot", err))
	}

	if s.metadata != nil {
		err = s.metadata.Clear(ctx)
		if err != nil {
			return s.fail(span, helper.NewError("clear metadata", fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, err)))
		}
	}

	metrics.RecordStoreOperation("reset", time.Since(start).Seconds())
	s.logger.Info("Vector store reset")

	return nil
}

func (s *VectorStore) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
