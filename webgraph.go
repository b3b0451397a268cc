package webgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/webgraph/core/cache"
	"github.com/siherrmann/webgraph/core/crawler"
	"github.com/siherrmann/webgraph/core/ingestion"
	"github.com/siherrmann/webgraph/core/jobs"
	"github.com/siherrmann/webgraph/core/pipeline"
	"github.com/siherrmann/webgraph/core/retrieval"
	"github.com/siherrmann/webgraph/core/store"
	"github.com/siherrmann/webgraph/core/worker"
	"github.com/siherrmann/webgraph/database"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/model"
)

// AnswerFunc generates an answer from a prompt built from the retrieved context.
type AnswerFunc func(ctx context.Context, prompt string) (string, error)

// WebGraph wires crawling, ingestion, the vector store and the query path.
type WebGraph struct {
	Config    *helper.Configuration
	DB        *helper.Database // only set for the postgres backends
	Redis     *redis.Client    // only set when a redis url is configured
	Store     *store.VectorStore
	Jobs      *jobs.Tracker
	Cache     *cache.TwoTierCache
	Pipeline  *pipeline.Pipeline
	Retriever *retrieval.HybridRetriever
	Ingester  *ingestion.Ingester
	Pages     database.PagesDBHandlerFunctions // nil without page registry

	pool        *worker.Pool
	sqliteCache *database.SqliteCacheDBHandler
	closers     []func() error
	log         *slog.Logger
}

type options struct {
	embedder  pipeline.Embedder
	reranker  retrieval.Reranker
	crawler   ingestion.Crawler
	extractor pipeline.ExtractFunc
	metadata  database.MetadataDBHandlerFunctions
	pages     database.PagesDBHandlerFunctions
	logger    *slog.Logger
}

// Option overrides a default collaborator of the WebGraph.
type Option func(*options)

func WithEmbedder(embedder pipeline.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

func WithReranker(reranker retrieval.Reranker) Option {
	return func(o *options) { o.reranker = reranker }
}

func WithCrawler(c ingestion.Crawler) Option {
	return func(o *options) { o.crawler = c }
}

func WithExtractor(extractor pipeline.ExtractFunc) Option {
	return func(o *options) { o.extractor = extractor }
}

// WithMetadata replaces the metadata backend chosen by the configuration.
func WithMetadata(metadata database.MetadataDBHandlerFunctions) Option {
	return func(o *options) { o.metadata = metadata }
}

// WithPageRegistry enables skipping of already ingested pages.
func WithPageRegistry(pages database.PagesDBHandlerFunctions) Option {
	return func(o *options) { o.pages = pages }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewWebGraph creates a WebGraph from config. A nil config uses
// helper.NewConfiguration, which reads the environment.
func NewWebGraph(config *helper.Configuration, opts ...Option) (*WebGraph, error) {
	var err error
	if config == nil {
		config, err = helper.NewConfiguration()
		if err != nil {
			return nil, helper.NewError("load configuration", err)
		}
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// Logger
	logger := o.logger
	if logger == nil {
		logger = slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{Level: slog.LevelInfo},
		}))
	}

	g := &WebGraph{
		Config: config,
		Jobs:   jobs.NewTracker(config.JobCapacity, config.JobTTL),
		pool:   worker.NewPool(config.WorkerCount),
		log:    logger,
	}

	err = g.connect(config, o)
	if err != nil {
		g.Close()
		return nil, err
	}

	err = g.build(config, o)
	if err != nil {
		g.Close()
		return nil, err
	}

	return g, nil
}

// connect opens the backends: redis, postgres and the sqlite cache.
func (g *WebGraph) connect(config *helper.Configuration, o *options) error {
	var err error

	if config.RedisURL != "" {
		g.Redis, err = helper.NewRedisClient(config.RedisURL)
		if err != nil {
			return helper.NewError("create redis client", err)
		}
		g.closers = append(g.closers, g.Redis.Close)
	}

	needsPostgres := (o.metadata == nil && config.MetadataBackend == helper.MetadataBackendPostgres) ||
		(o.pages == nil && config.UsePageRegistry)
	if needsPostgres {
		dbConfig, err := helper.NewDatabaseConfiguration()
		if err != nil {
			return helper.NewError("database configuration", err)
		}
		g.DB = helper.NewDatabase("webgraph", dbConfig, g.log)
		g.closers = append(g.closers, g.DB.Close)
	}

	if o.metadata == nil {
		o.metadata, err = g.metadataBackend(config)
		if err != nil {
			return err
		}
	}

	if o.pages == nil && config.UsePageRegistry {
		pages, err := database.NewPagesDBHandler(g.DB, false)
		if err != nil {
			return helper.NewError("create page registry", err)
		}
		o.pages = pages
	}
	g.Pages = o.pages

	g.sqliteCache, err = database.NewSqliteCacheDBHandler(config.CachePath)
	if err != nil {
		return helper.NewError("create fallback cache", err)
	}
	g.closers = append(g.closers, g.sqliteCache.Close)

	var primary database.CacheDBHandlerFunctions
	if g.Redis != nil {
		redisCache, err := database.NewRedisCacheDBHandler(g.Redis, "answer:")
		if err != nil {
			return helper.NewError("create primary cache", err)
		}
		primary = redisCache
	}
	g.Cache, err = cache.NewTwoTierCache(primary, g.sqliteCache, g.log)
	if err != nil {
		return helper.NewError("create cache", err)
	}

	return nil
}

func (g *WebGraph) metadataBackend(config *helper.Configuration) (database.MetadataDBHandlerFunctions, error) {
	switch config.MetadataBackend {
	case helper.MetadataBackendMemory:
		return database.NewMemoryMetadataDBHandler(), nil
	case helper.MetadataBackendPostgres:
		metadata, err := database.NewMetadataDBHandler(g.DB, false)
		if err != nil {
			return nil, helper.NewError("create postgres metadata store", err)
		}
		return metadata, nil
	default:
		if g.Redis == nil {
			return nil, helper.NewError("create redis metadata store", fmt.Errorf("%w: redis url is not configured", model.ErrDependencyUnavailable))
		}
		metadata, err := database.NewRedisMetadataDBHandler(g.Redis, g.log)
		if err != nil {
			return nil, helper.NewError("create redis metadata store", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.BackendTimeout)
		defer cancel()
		if err := metadata.Ping(ctx); err != nil {
			g.log.Warn("Redis is not reachable, upserts and searches will fail until it is", slog.String("error", err.Error()))
		}
		return metadata, nil
	}
}

// build creates the store, the pipeline, the retriever and the ingester.
func (g *WebGraph) build(config *helper.Configuration, o *options) error {
	var err error

	g.Store, err = store.NewVectorStore(o.metadata, config.IndexPath, g.log)
	if err != nil {
		return helper.NewError("create vector store", err)
	}

	if o.embedder == nil {
		embedder, err := pipeline.DefaultEmbedder(config.ModelDir, config.EmbeddingModel)
		if err != nil {
			return helper.NewError("create default embedder", err)
		}
		g.closers = append(g.closers, embedder.Close)
		o.embedder = embedder
	}
	if o.extractor == nil {
		o.extractor = pipeline.DefaultExtractor()
	}
	if o.reranker == nil && config.RerankerURL != "" {
		o.reranker = retrieval.NewRerankerClient(config.RerankerURL, config.RerankerModel, config.RerankTimeout, g.log, nil)
	}
	if o.crawler == nil {
		o.crawler = crawler.NewCrawler(nil, config.CrawlRatePerSec, config.UserAgent, g.log)
	}

	ingestionConfig := model.DefaultIngestionConfig()
	g.Pipeline = pipeline.NewPipeline(
		o.extractor,
		pipeline.TokenWindowChunker(ingestionConfig.ChunkSize, ingestionConfig.ChunkOverlap),
		o.embedder,
	)

	g.Retriever = retrieval.NewHybridRetriever(
		o.embedder,
		g.Store,
		o.reranker,
		g.pool,
		model.DefaultQueryConfig(),
		config.EmbedTimeout,
		config.RerankTimeout,
		g.log,
	)

	var registry ingestion.PageRegistry
	if g.Pages != nil {
		registry = g.Pages
	}
	g.Ingester = ingestion.NewIngester(
		g.Jobs,
		o.crawler,
		g.Pipeline,
		g.Store,
		registry,
		g.pool,
		ingestionConfig,
		config.EmbedTimeout,
		g.log,
	)

	return nil
}

// Close waits for running ingestion jobs and releases all backends.
func (g *WebGraph) Close() error {
	if g.Ingester != nil {
		g.Ingester.Wait()
	}

	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil

	return errors.Join(errs...)
}

// StartIngestion starts a background job ingesting the pages reachable from
// urls. Limits of zero or less use the configured crawl limits. With a page
// registry, urls that were already ingested are skipped and returned; if all
// of them were, no job is started and the job id is empty.
func (g *WebGraph) StartIngestion(ctx context.Context, urls []string, maxPages int, maxDepth int) (string, []string, error) {
	if len(urls) == 0 {
		return "", nil, helper.NewError("validate urls", fmt.Errorf("no urls given"))
	}
	if maxPages <= 0 {
		maxPages = g.Config.CrawlMaxPages
	}
	if maxDepth <= 0 {
		maxDepth = g.Config.CrawlMaxDepth
	}

	skipped := []string{}
	if g.Pages != nil {
		existing, err := g.Pages.SelectExistingURLs(ctx, urls)
		if err != nil {
			return "", nil, helper.NewError("select existing pages", err)
		}

		fresh := []string{}
		for _, u := range urls {
			if existing[u] {
				skipped = append(skipped, u)
			} else {
				fresh = append(fresh, u)
			}
		}
		urls = fresh
	}
	if len(urls) == 0 {
		g.log.Info("All urls are already ingested", slog.Any("urls", skipped))
		return "", skipped, nil
	}

	jobID := g.Jobs.Create()
	g.Ingester.Start(ctx, jobID, urls, maxPages, maxDepth)
	g.log.Info("Started ingestion", slog.String("job_id", jobID), slog.Int("urls", len(urls)), slog.Int("skipped", len(skipped)))

	return jobID, skipped, nil
}

// JobStatus returns a snapshot of the job.
func (g *WebGraph) JobStatus(id string) (*model.Job, error) {
	return g.Jobs.Get(id)
}

// Retrieve returns up to topK reranked chunks for query.
func (g *WebGraph) Retrieve(ctx context.Context, query string, topK int) ([]*model.Candidate, error) {
	return g.Retriever.Retrieve(ctx, query, topK)
}

// Ask answers query from the indexed pages. Answers are cached by the exact
// query text. If nothing relevant is found model.NoContextAnswer is returned
// and not cached.
func (g *WebGraph) Ask(ctx context.Context, query string, answer AnswerFunc) (*model.Answer, error) {
	if answer == nil {
		return nil, helper.NewError("validate answer func", fmt.Errorf("answer func is nil"))
	}

	cached, found, err := g.Cache.Get(ctx, query)
	if err != nil {
		g.log.Warn("Cache lookup failed", slog.String("error", err.Error()))
	}
	if found {
		result := &model.Answer{}
		if err := json.Unmarshal([]byte(cached), result); err == nil {
			result.FromCache = true
			return result, nil
		}
		g.log.Warn("Ignoring unreadable cache entry", slog.String("query", query))
	}

	candidates, err := g.Retrieve(ctx, query, model.DefaultQueryConfig().TopK)
	if err != nil {
		return nil, helper.NewError("retrieve", err)
	}
	if len(candidates) == 0 {
		return &model.Answer{Query: query, Text: model.NoContextAnswer, Sources: []*model.Candidate{}}, nil
	}

	text, err := answer(ctx, model.BuildPrompt(query, candidates))
	if err != nil {
		return nil, helper.NewError("generate answer", err)
	}
	result := &model.Answer{Query: query, Text: text, Sources: candidates}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, helper.NewError("marshal answer", err)
	}
	if err := g.Cache.Set(ctx, query, string(payload), g.Config.AnswerTTL); err != nil {
		g.log.Warn("Could not cache answer", slog.String("error", err.Error()))
	}

	return result, nil
}

// Sources lists the pages in the page registry, oldest first.
func (g *WebGraph) Sources(ctx context.Context, lastCreatedAt *time.Time, limit int) ([]*model.PageRecord, error) {
	if g.Pages == nil {
		return []*model.PageRecord{}, nil
	}
	return g.Pages.SelectAllPages(ctx, lastCreatedAt, limit)
}

// Reset empties the vector store together with its snapshot file, flushes
// the answer cache and clears the page registry.
func (g *WebGraph) Reset(ctx context.Context) error {
	err := g.Store.Reset(ctx)
	if err != nil {
		return helper.NewError("reset store", err)
	}

	err = g.Cache.FlushAll(ctx)
	if err != nil {
		return helper.NewError("flush answer cache", err)
	}

	if g.Pages != nil {
		err = g.Pages.DeleteAllPages(ctx)
		if err != nil {
			return helper.NewError("clear page registry", err)
		}
	}

	g.log.Info("Reset knowledge base")
	return nil
}
