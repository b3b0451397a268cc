package helper

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Metadata backends understood by Configuration.MetadataBackend.
const (
	MetadataBackendRedis    = "redis"
	MetadataBackendPostgres = "postgres"
	MetadataBackendMemory   = "memory"
)

// Configuration holds the runtime settings of the retrieval engine.
type Configuration struct {
	// Storage
	IndexPath       string
	MetadataBackend string
	RedisURL        string
	CachePath       string
	UsePageRegistry bool

	// Models
	ModelDir       string
	EmbeddingModel string
	RerankerURL    string
	RerankerModel  string

	// Limits
	WorkerCount     int
	JobCapacity     int
	JobTTL          time.Duration
	AnswerTTL       time.Duration
	EmbedTimeout    time.Duration
	RerankTimeout   time.Duration
	BackendTimeout  time.Duration
	CrawlMaxPages   int
	CrawlMaxDepth   int
	CrawlRatePerSec float64
	UserAgent       string
}

// DefaultConfiguration returns the settings used when no environment is set.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		IndexPath:       "./data/faiss.index",
		MetadataBackend: MetadataBackendRedis,
		RedisURL:        "redis://localhost:6379/0",
		CachePath:       "./data/cache.sqlite",
		ModelDir:        "./models",
		EmbeddingModel:  "sentence-transformers/all-MiniLM-L6-v2",
		RerankerURL:     "",
		RerankerModel:   "cross-encoder/ms-marco-MiniLM-L-6-v2",
		WorkerCount:     runtime.NumCPU(),
		JobCapacity:     1024,
		JobTTL:          24 * time.Hour,
		AnswerTTL:       time.Hour,
		EmbedTimeout:    60 * time.Second,
		RerankTimeout:   30 * time.Second,
		BackendTimeout:  5 * time.Second,
		CrawlMaxPages:   20,
		CrawlMaxDepth:   2,
		CrawlRatePerSec: 2,
		UserAgent:       "webgraph-crawler/1.0",
	}
}

// NewConfiguration loads an optional .env file and overrides the defaults
// with the WEBGRAPH_* environment variables.
func NewConfiguration(envFiles ...string) (*Configuration, error) {
	err := godotenv.Load(envFiles...)
	if err != nil && !os.IsNotExist(err) {
		return nil, NewError("load env file", err)
	}

	config := DefaultConfiguration()
	config.IndexPath = envString("WEBGRAPH_INDEX_PATH", config.IndexPath)
	config.MetadataBackend = envString("WEBGRAPH_METADATA_BACKEND", config.MetadataBackend)
	config.RedisURL = envString("WEBGRAPH_REDIS_URL", config.RedisURL)
	config.CachePath = envString("WEBGRAPH_CACHE_PATH", config.CachePath)
	config.ModelDir = envString("WEBGRAPH_MODEL_DIR", config.ModelDir)
	config.EmbeddingModel = envString("WEBGRAPH_EMBEDDING_MODEL", config.EmbeddingModel)
	config.RerankerURL = envString("WEBGRAPH_RERANKER_URL", config.RerankerURL)
	config.RerankerModel = envString("WEBGRAPH_RERANKER_MODEL", config.RerankerModel)
	config.UserAgent = envString("WEBGRAPH_USER_AGENT", config.UserAgent)

	if config.UsePageRegistry, err = envBool("WEBGRAPH_PAGE_REGISTRY", config.UsePageRegistry); err != nil {
		return nil, err
	}
	if config.WorkerCount, err = envInt("WEBGRAPH_WORKER_COUNT", config.WorkerCount); err != nil {
		return nil, err
	}
	if config.JobCapacity, err = envInt("WEBGRAPH_JOB_CAPACITY", config.JobCapacity); err != nil {
		return nil, err
	}
	if config.CrawlMaxPages, err = envInt("WEBGRAPH_CRAWL_MAX_PAGES", config.CrawlMaxPages); err != nil {
		return nil, err
	}
	if config.CrawlMaxDepth, err = envInt("WEBGRAPH_CRAWL_MAX_DEPTH", config.CrawlMaxDepth); err != nil {
		return nil, err
	}
	if config.JobTTL, err = envDuration("WEBGRAPH_JOB_TTL", config.JobTTL); err != nil {
		return nil, err
	}
	if config.AnswerTTL, err = envDuration("WEBGRAPH_ANSWER_TTL", config.AnswerTTL); err != nil {
		return nil, err
	}
	if config.EmbedTimeout, err = envDuration("WEBGRAPH_EMBED_TIMEOUT", config.EmbedTimeout); err != nil {
		return nil, err
	}
	if config.RerankTimeout, err = envDuration("WEBGRAPH_RERANK_TIMEOUT", config.RerankTimeout); err != nil {
		return nil, err
	}
	if config.BackendTimeout, err = envDuration("WEBGRAPH_BACKEND_TIMEOUT", config.BackendTimeout); err != nil {
		return nil, err
	}
	if raw := os.Getenv("WEBGRAPH_CRAWL_RATE"); raw != "" {
		config.CrawlRatePerSec, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, NewError("parse WEBGRAPH_CRAWL_RATE", err)
		}
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the settings for values the engine cannot run with.
func (c *Configuration) Validate() error {
	switch c.MetadataBackend {
	case MetadataBackendRedis, MetadataBackendPostgres, MetadataBackendMemory:
	default:
		return NewError("validate", fmt.Errorf("unknown metadata backend %q", c.MetadataBackend))
	}
	if c.IndexPath == "" {
		return NewError("validate", fmt.Errorf("index path must be set"))
	}
	if c.CachePath == "" {
		return NewError("validate", fmt.Errorf("cache path must be set"))
	}
	if c.WorkerCount <= 0 {
		return NewError("validate", fmt.Errorf("worker count must be positive, got %d", c.WorkerCount))
	}
	if c.JobCapacity <= 0 {
		return NewError("validate", fmt.Errorf("job capacity must be positive, got %d", c.JobCapacity))
	}
	if c.CrawlMaxPages <= 0 || c.CrawlMaxDepth < 0 {
		return NewError("validate", fmt.Errorf("invalid crawl limits %d pages, depth %d", c.CrawlMaxPages, c.CrawlMaxDepth))
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewError("parse "+key, err)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, NewError("parse "+key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, NewError("parse "+key, err)
	}
	return v, nil
}
