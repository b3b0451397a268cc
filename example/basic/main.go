package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/siherrmann/webgraph"
	"github.com/siherrmann/webgraph/helper"
)

var samplePages = map[string]string{
	"/": `<html><head><title>Graph Databases</title></head><body>
<p>Graph databases are designed to store and query data with complex relationships.
They use nodes to represent entities and edges to represent relationships between them.</p>
<p>Read more about <a href="/vectors">vector search</a>.</p>
</body></html>`,
	"/vectors": `<html><head><title>Vector Search</title></head><body>
<p>Vector embeddings capture the semantic meaning of text, enabling similarity based search.
A cross-encoder can rerank the closest passages to improve their order.</p>
</body></html>`,
}

func main() {
	// Serve a tiny site to crawl
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := samplePages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer site.Close()

	// Start a PostgreSQL container for the page registry
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	envs := map[string]string{
		"WEBGRAPH_DB_HOST":     "localhost",
		"WEBGRAPH_DB_PORT":     dbPort,
		"WEBGRAPH_DB_DATABASE": "database",
		"WEBGRAPH_DB_USERNAME": "user",
		"WEBGRAPH_DB_PASSWORD": "password",
		"WEBGRAPH_DB_SSLMODE":  "disable",
	}
	for key, value := range envs {
		os.Setenv(key, value)
	}

	dataDir, err := os.MkdirTemp("", "webgraph-example")
	if err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	defer os.RemoveAll(dataDir)

	config := helper.DefaultConfiguration()
	config.MetadataBackend = helper.MetadataBackendPostgres
	config.RedisURL = ""
	config.UsePageRegistry = true
	config.IndexPath = filepath.Join(dataDir, "index.msgpack")
	config.CachePath = filepath.Join(dataDir, "cache.sqlite")
	config.CrawlRatePerSec = 0

	// Uses the default embedder, which downloads all-MiniLM-L6-v2 on first use
	g, err := webgraph.NewWebGraph(config)
	if err != nil {
		log.Fatalf("Failed to create webgraph: %v", err)
	}
	defer g.Close()

	ctx := context.Background()
	jobID, _, err := g.StartIngestion(ctx, []string{site.URL + "/"}, 10, 1)
	if err != nil {
		log.Fatalf("Failed to start ingestion: %v", err)
	}

	// Poll the job like a client would
	for {
		job, err := g.JobStatus(jobID)
		if err != nil {
			log.Fatalf("Failed to get job: %v", err)
		}
		fmt.Printf("[%s] %s\n", job.Status, job.MainProgress)
		for _, step := range job.SubSteps {
			fmt.Printf("    %s: %s %s\n", step.Name, step.Status, step.Detail)
		}
		if job.Status.IsTerminal() {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	query := "How does similarity search work?"
	fmt.Printf("\nQuerying: %s\n", query)

	// Without a language model the answer is the best passage
	answer, err := g.Ask(ctx, query, func(ctx context.Context, prompt string) (string, error) {
		passages := strings.TrimPrefix(prompt, "Use the following context to answer the question:\n")
		return strings.SplitN(passages, "\n\n", 2)[0], nil
	})
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}

	fmt.Printf("Answer: %s\n", answer.Text)
	for i, source := range answer.Sources {
		fmt.Printf("  %d. %s (%s) score %.3f\n", i+1, source.Title, source.PageURL, source.RerankScore)
	}

	sources, err := g.Sources(ctx, nil, 10)
	if err != nil {
		log.Fatalf("Failed to list sources: %v", err)
	}
	fmt.Printf("\n%d pages in the registry\n", len(sources))
}
