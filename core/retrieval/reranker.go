package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/siherrmann/webgraph/helper"
)

// Reranker scores (query, text) pairs. Higher scores mean more relevant.
// The returned slice is aligned with texts.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float32, error)
}

// ScoreFunc adapts an in-process scoring function to the Reranker interface.
type ScoreFunc func(query string, texts []string) ([]float32, error)

func (f ScoreFunc) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f(query, texts)
}

// RerankRequest is the request payload of the rerank endpoint.
type RerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
}

// RerankResult is the score of the candidate at Index.
type RerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// RerankResponse is the response of the rerank endpoint.
type RerankResponse struct {
	Results []RerankResult `json:"results"`
	Model   string         `json:"model"`
}

// RerankerClient calls a cross-encoder served over HTTP at POST {BaseURL}/v1/rerank.
type RerankerClient struct {
	BaseURL string
	Model   string
	Client  *http.Client
	logger  *slog.Logger
}

// NewRerankerClient creates a client. If client is nil one with the given
// timeout is used.
func NewRerankerClient(baseURL string, model string, timeout time.Duration, logger *slog.Logger, client *http.Client) *RerankerClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankerClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  client,
		logger:  logger,
	}
}

func (c *RerankerClient) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return []float32{}, nil
	}
	start := time.Now()

	payload, err := json.Marshal(RerankRequest{Query: query, Candidates: texts, Model: c.Model})
	if err != nil {
		return nil, helper.NewError("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, helper.NewError("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, helper.NewError("request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, helper.NewError("status", fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(body)))
	}

	var response RerankResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return nil, helper.NewError("decode response", err)
	}

	scores := make([]float32, len(texts))
	scored := make([]bool, len(texts))
	for _, result := range response.Results {
		if result.Index < 0 || result.Index >= len(texts) {
			return nil, helper.NewError("map results", fmt.Errorf("invalid result index %d for %d candidates", result.Index, len(texts)))
		}
		scores[result.Index] = result.Score
		scored[result.Index] = true
	}
	for i, ok := range scored {
		if !ok {
			return nil, helper.NewError("map results", fmt.Errorf("missing score for candidate %d", i))
		}
	}

	c.logger.Debug("Reranked candidates", slog.Int("count", len(texts)), slog.String("model", response.Model), slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return scores, nil
}
