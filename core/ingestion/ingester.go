package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/siherrmann/webgraph/core/jobs"
	"github.com/siherrmann/webgraph/core/pipeline"
	"github.com/siherrmann/webgraph/core/worker"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/metrics"
	"github.com/siherrmann/webgraph/model"
)

// Crawler fetches the pages reachable from a set of seed urls.
type Crawler interface {
	Crawl(ctx context.Context, seeds []string, maxPages int, maxDepth int) ([]model.Page, error)
}

// Upserter stores embedded chunks.
type Upserter interface {
	Upsert(ctx context.Context, chunks []*model.Chunk) ([]int64, error)
}

// PageRegistry records which pages were ingested.
type PageRegistry interface {
	UpsertPage(ctx context.Context, page *model.PageRecord) error
}

// Ingester turns crawled pages into indexed chunks and reports its progress
// to the job tracker.
type Ingester struct {
	tracker      *jobs.Tracker
	crawler      Crawler
	pipeline     *pipeline.Pipeline
	store        Upserter
	pages        PageRegistry
	pool         *worker.Pool
	config       model.IngestionConfig
	embedTimeout time.Duration
	logger       *slog.Logger
	running      sync.WaitGroup
}

// NewIngester creates an ingester. pages may be nil.
func NewIngester(
	tracker *jobs.Tracker,
	crawler Crawler,
	p *pipeline.Pipeline,
	store Upserter,
	pages PageRegistry,
	pool *worker.Pool,
	config model.IngestionConfig,
	embedTimeout time.Duration,
	logger *slog.Logger,
) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		tracker:      tracker,
		crawler:      crawler,
		pipeline:     p,
		store:        store,
		pages:        pages,
		pool:         pool,
		config:       config,
		embedTimeout: embedTimeout,
		logger:       logger,
	}
}

// Start runs the job in the background. The job keeps running when ctx is
// cancelled.
func (in *Ingester) Start(ctx context.Context, jobID string, urls []string, maxPages int, maxDepth int) {
	ctx = context.WithoutCancel(ctx)

	in.running.Add(1)
	go func() {
		defer in.running.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%w: panic: %v", model.ErrIngestionStep, r)
				in.logger.Error("Ingestion panicked", slog.String("job_id", jobID), slog.Any("error", err))
				in.tracker.SetStatus(jobID, model.JobStatusFailed, "An error occurred: "+err.Error(), nil)
				metrics.Jobs.WithLabelValues(string(model.JobStatusFailed)).Inc()
			}
		}()
		_ = in.Run(ctx, jobID, urls, maxPages, maxDepth)
	}()
}

// Wait blocks until all started jobs finished.
func (in *Ingester) Wait() {
	in.running.Wait()
}

// Run crawls the urls and ingests every page, updating the job as it goes.
// The returned error is also recorded on the job.
func (in *Ingester) Run(ctx context.Context, jobID string, urls []string, maxPages int, maxDepth int) error {
	logger := in.logger.With(slog.String("job_id", jobID))

	in.tracker.SetStatus(jobID, model.JobStatusRunning, fmt.Sprintf("Starting crawl (max pages: %d, max depth: %d)...", maxPages, maxDepth), nil)

	pages, err := in.crawler.Crawl(ctx, urls, maxPages, maxDepth)
	if err != nil {
		return in.fail(logger, jobID, helper.NewError("crawl", err))
	}
	if len(pages) == 0 {
		logger.Warn("No pages to ingest", slog.Any("urls", urls))
		in.tracker.SetStatus(jobID, model.JobStatusFailed, "No pages found or all pages failed to crawl.", nil)
		metrics.Jobs.WithLabelValues(string(model.JobStatusFailed)).Inc()
		return helper.NewError("crawl", fmt.Errorf("%w: no pages found", model.ErrIngestionStep))
	}

	totalPages := 0
	totalChunks := 0
	for i, page := range pages {
		in.tracker.SetStatus(jobID, model.JobStatusRunning, fmt.Sprintf("Processing page %d/%d: %s", i+1, len(pages), page.URL), model.PageSubSteps())

		chunks, err := in.ingestPage(ctx, jobID, page)
		if err != nil {
			return in.fail(logger, jobID, helper.NewError("page "+page.URL, err))
		}
		if chunks == 0 {
			continue
		}

		totalPages++
		totalChunks += chunks
	}

	in.tracker.SetStatus(jobID, model.JobStatusCompleted, fmt.Sprintf("Completed. Ingested %d pages and %d chunks.", totalPages, totalChunks), []model.SubStep{})
	metrics.Jobs.WithLabelValues(string(model.JobStatusCompleted)).Inc()
	logger.Info("Ingestion completed", slog.Int("pages", totalPages), slog.Int("chunks", totalChunks))

	return nil
}

// ingestPage runs extraction, embedding and upsert for one page and returns
// the number of stored chunks. Empty pages are skipped with zero chunks.
func (in *Ingester) ingestPage(ctx context.Context, jobID string, page model.Page) (int, error) {
	in.tracker.SetSubStep(jobID, model.SubStepExtract, model.SubStepRunning, "")

	article, err := in.pipeline.Extractor(page.URL, page.HTML)
	if err != nil {
		return 0, stepError("extract", err)
	}
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = page.URL
	}
	if strings.TrimSpace(article.Text) == "" {
		in.logger.Info("Skipping empty page", slog.String("job_id", jobID), slog.String("url", page.URL))
		for _, name := range []string{model.SubStepExtract, model.SubStepEmbed, model.SubStepUpsert} {
			in.tracker.SetSubStep(jobID, name, model.SubStepCompleted, "Skipped (empty page)")
		}
		return 0, nil
	}

	texts, err := in.pipeline.Chunker(article.Text)
	if err != nil {
		return 0, stepError("chunk", err)
	}
	in.tracker.SetSubStep(jobID, model.SubStepExtract, model.SubStepCompleted, fmt.Sprintf("%d chunks found", len(texts)))
	if len(texts) == 0 {
		return 0, nil
	}

	embeddings, err := in.embed(ctx, jobID, texts)
	if err != nil {
		return 0, stepError("embed", err)
	}
	in.tracker.SetSubStep(jobID, model.SubStepEmbed, model.SubStepCompleted, fmt.Sprintf("%d embeddings generated", len(embeddings)))

	in.tracker.SetSubStep(jobID, model.SubStepUpsert, model.SubStepRunning, "")
	chunks := make([]*model.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = model.NewChunk(page.URL, title, text, embeddings[i])
	}
	_, err = in.store.Upsert(ctx, chunks)
	if err != nil {
		return 0, stepError("upsert", err)
	}

	if in.pages != nil {
		err = in.pages.UpsertPage(ctx, &model.PageRecord{URL: page.URL, Title: title, Chunks: len(chunks)})
		if err != nil {
			return 0, stepError("register page", err)
		}
	}
	metrics.RecordIngestedPage(len(chunks))
	in.tracker.SetSubStep(jobID, model.SubStepUpsert, model.SubStepCompleted, "")

	return len(chunks), nil
}

// embed embeds a single chunk with EmbedOne and larger pages in batches of
// EmbeddingBatchSize with EmbedMany, reporting progress after each batch.
func (in *Ingester) embed(ctx context.Context, jobID string, texts []string) ([][]float32, error) {
	total := len(texts)
	in.tracker.SetSubStep(jobID, model.SubStepEmbed, model.SubStepRunning, "Preparing...")

	if total == 1 {
		in.tracker.SetSubStep(jobID, model.SubStepEmbed, model.SubStepRunning, "(1/1 chunks)")
		vector, err := runEmbedding(ctx, in, func(ctx context.Context) ([]float32, error) {
			return in.pipeline.Embedder.EmbedOne(ctx, texts[0])
		})
		if err != nil {
			return nil, err
		}
		if len(vector) == 0 {
			return nil, fmt.Errorf("%w: empty embedding", model.ErrEmbeddingFailure)
		}
		metrics.EmbeddingBatchSize.Observe(1)
		return [][]float32{vector}, nil
	}

	batchSize := in.config.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = total
	}

	embeddings := make([][]float32, 0, total)
	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		batch := texts[start:end]

		vectors, err := runEmbedding(ctx, in, func(ctx context.Context) ([][]float32, error) {
			return in.pipeline.Embedder.EmbedMany(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", model.ErrEmbeddingFailure, len(vectors), len(batch))
		}
		metrics.EmbeddingBatchSize.Observe(float64(len(batch)))

		embeddings = append(embeddings, vectors...)
		in.tracker.SetSubStep(jobID, model.SubStepEmbed, model.SubStepRunning, fmt.Sprintf("(%d/%d chunks)", end, total))
	}

	return embeddings, nil
}

// runEmbedding runs fn on the worker pool under the embedding timeout.
// Failures are reported as ErrEmbeddingFailure.
func runEmbedding[T any](ctx context.Context, in *Ingester, fn func(ctx context.Context) (T, error)) (T, error) {
	if in.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.embedTimeout)
		defer cancel()
	}

	result, err := worker.Submit(ctx, in.pool, fn)
	if err != nil && !errors.Is(err, model.ErrEmbeddingFailure) {
		err = fmt.Errorf("%w: %w", model.ErrEmbeddingFailure, err)
	}
	return result, err
}

func (in *Ingester) fail(logger *slog.Logger, jobID string, err error) error {
	logger.Error("Ingestion failed", slog.Any("error", err))
	in.tracker.SetStatus(jobID, model.JobStatusFailed, "An error occurred: "+err.Error(), nil)
	metrics.Jobs.WithLabelValues(string(model.JobStatusFailed)).Inc()
	return err
}

func stepError(step string, err error) error {
	if errors.Is(err, model.ErrIngestionStep) {
		return helper.NewError(step, err)
	}
	return helper.NewError(step, fmt.Errorf("%w: %w", model.ErrIngestionStep, err))
}
