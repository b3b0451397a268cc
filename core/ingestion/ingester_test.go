package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/siherrmann/webgraph/core/jobs"
	"github.com/siherrmann/webgraph/core/pipeline"
	"github.com/siherrmann/webgraph/core/worker"
	"github.com/siherrmann/webgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCrawler struct {
	pages []model.Page
	err   error
}

func (c *fakeCrawler) Crawl(ctx context.Context, seeds []string, maxPages int, maxDepth int) ([]model.Page, error) {
	return c.pages, c.err
}

type fakeEmbedder struct {
	mu        sync.Mutex
	oneCalls  int
	manySizes []int
	failOn    int
}

func (e *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oneCalls++
	return []float32{1, 0, 0}, nil
}

func (e *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manySizes = append(e.manySizes, len(texts))
	if e.failOn > 0 && len(e.manySizes) == e.failOn {
		return nil, errors.New("model crashed")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0, 1, 0}
	}
	return vectors, nil
}

type fakeStore struct {
	mu      sync.Mutex
	batches [][]*model.Chunk
	err     error
}

func (s *fakeStore) Upsert(ctx context.Context, chunks []*model.Chunk) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, chunks)
	ids := make([]int64, len(chunks))
	for i := range ids {
		ids[i] = int64(i)
	}
	return ids, nil
}

type fakeRegistry struct {
	pages []*model.PageRecord
}

func (r *fakeRegistry) UpsertPage(ctx context.Context, page *model.PageRecord) error {
	r.pages = append(r.pages, page)
	return nil
}

// words returns text with n whitespace separated tokens.
func words(n int) string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(tokens, " ")
}

// textExtractor uses the html as plain text and the url as title.
func textExtractor(pageURL string, html string) (model.Article, error) {
	return model.Article{Title: "", Text: html}, nil
}

type testSetup struct {
	tracker  *jobs.Tracker
	embedder *fakeEmbedder
	store    *fakeStore
	registry *fakeRegistry
	ingester *Ingester
}

func newTestSetup(crawler Crawler) *testSetup {
	config := model.DefaultIngestionConfig()
	embedder := &fakeEmbedder{}
	setup := &testSetup{
		tracker:  jobs.NewTracker(10, time.Hour),
		embedder: embedder,
		store:    &fakeStore{},
		registry: &fakeRegistry{},
	}
	p := pipeline.NewPipeline(textExtractor, pipeline.TokenWindowChunker(config.ChunkSize, config.ChunkOverlap), embedder)
	setup.ingester = NewIngester(setup.tracker, crawler, p, setup.store, setup.registry, worker.NewPool(2), config, time.Minute, nil)
	return setup
}

func TestRun(t *testing.T) {
	t.Run("Valid call Run ingests all pages", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{pages: []model.Page{
			{URL: "https://example.com/one", HTML: "a single short chunk"},
			{URL: "https://example.com/empty", HTML: "   \n "},
			{URL: "https://example.com/long", HTML: words(1500)},
		}})
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, []string{"https://example.com"}, 20, 2)
		require.NoError(t, err, "Expected Run to not return an error")

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, job.Status, "Expected job to be completed")
		assert.Equal(t, "Completed. Ingested 2 pages and 3 chunks.", job.MainProgress)
		assert.Empty(t, job.SubSteps, "Expected sub-steps to be cleared")

		require.Len(t, setup.store.batches, 2, "Expected one upsert per non-empty page")
		assert.Len(t, setup.store.batches[0], 1)
		assert.Len(t, setup.store.batches[1], 2, "Expected 1500 tokens to give windows at 0 and 700")

		chunk := setup.store.batches[0][0]
		assert.Equal(t, "https://example.com/one", chunk.PageURL)
		assert.Equal(t, "https://example.com/one", chunk.Title, "Expected title to fall back to the url")
		assert.Equal(t, "a single short chunk", chunk.Text)

		require.Len(t, setup.registry.pages, 2, "Expected ingested pages to be registered")
		assert.Equal(t, 2, setup.registry.pages[1].Chunks)
	})

	t.Run("Single chunk pages use EmbedOne", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{pages: []model.Page{{URL: "https://example.com", HTML: words(10)}}})
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, []string{"https://example.com"}, 20, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, setup.embedder.oneCalls, "Expected one EmbedOne call")
		assert.Empty(t, setup.embedder.manySizes, "Expected no EmbedMany call")
	})

	t.Run("Multi chunk pages are embedded in batches of 32", func(t *testing.T) {
		// 70 windows start at 0, 700, ..., 48300 for 49000 tokens
		setup := newTestSetup(&fakeCrawler{pages: []model.Page{{URL: "https://example.com", HTML: words(49000)}}})
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, []string{"https://example.com"}, 20, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{32, 32, 6}, setup.embedder.manySizes, "Expected batches of 32, 32 and 6")
		assert.Equal(t, 0, setup.embedder.oneCalls)
		require.Len(t, setup.store.batches, 1)
		assert.Len(t, setup.store.batches[0], 70)
	})

	t.Run("No pages fails the job", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{})
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, []string{"https://example.com"}, 20, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrIngestionStep)

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.Equal(t, "No pages found or all pages failed to crawl.", job.MainProgress)
	})

	t.Run("Embedding failure fails the job", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{pages: []model.Page{{URL: "https://example.com", HTML: words(49000)}}})
		setup.embedder.failOn = 2
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, []string{"https://example.com"}, 20, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrEmbeddingFailure, "Expected an embedding failure")
		assert.ErrorIs(t, err, model.ErrIngestionStep, "Expected an ingestion step failure")

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.True(t, strings.HasPrefix(job.MainProgress, "An error occurred: "), "Expected failure message, got %q", job.MainProgress)
		assert.Contains(t, job.MainProgress, "model crashed")
		require.Len(t, job.SubSteps, 3, "Expected sub-steps of the failed page to stay")
		assert.Equal(t, "(32/70 chunks)", job.SubSteps[1].Detail, "Expected progress of the first batch")
		assert.Empty(t, setup.store.batches, "Expected nothing to be upserted")
	})

	t.Run("Upsert failure fails the job without retry", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{pages: []model.Page{
			{URL: "https://example.com/a", HTML: "text a"},
			{URL: "https://example.com/b", HTML: "text b"},
		}})
		setup.store.err = fmt.Errorf("%w: redis down", model.ErrDependencyUnavailable)
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, []string{"https://example.com"}, 20, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrDependencyUnavailable)

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.Equal(t, 1, setup.embedder.oneCalls, "Expected the second page to not be processed")
	})

	t.Run("Crawler error fails the job", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{err: errors.New("network down")})
		jobID := setup.tracker.Create()

		err := setup.ingester.Run(context.Background(), jobID, nil, 20, 2)
		require.Error(t, err)

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.Contains(t, job.MainProgress, "network down")
	})

	t.Run("Empty page marks all sub-steps as skipped", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{})
		jobID := setup.tracker.Create()
		setup.tracker.SetStatus(jobID, model.JobStatusRunning, "Processing page 1/1: https://example.com", model.PageSubSteps())

		chunks, err := setup.ingester.ingestPage(context.Background(), jobID, model.Page{URL: "https://example.com", HTML: " "})
		require.NoError(t, err)
		assert.Equal(t, 0, chunks, "Expected no chunks for an empty page")

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		require.Len(t, job.SubSteps, 3)
		for _, step := range job.SubSteps {
			assert.Equal(t, model.SubStepCompleted, step.Status, "Expected %s to be completed", step.Name)
			assert.Equal(t, "Skipped (empty page)", step.Detail)
		}
	})
}

func TestStart(t *testing.T) {
	t.Run("Valid call Start runs detached from the caller context", func(t *testing.T) {
		setup := newTestSetup(&fakeCrawler{pages: []model.Page{{URL: "https://example.com", HTML: "some text"}}})
		jobID := setup.tracker.Create()

		ctx, cancel := context.WithCancel(context.Background())
		setup.ingester.Start(ctx, jobID, []string{"https://example.com"}, 20, 2)
		cancel()
		setup.ingester.Wait()

		job, err := setup.tracker.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, job.Status, "Expected job to complete after the caller context was cancelled")
	})
}
