package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/model"
)

// HugotEmbedder runs a sentence transformer in process with hugot.
type HugotEmbedder struct {
	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// DefaultEmbedder creates an embedder using a real sentence transformer model.
// With sentence-transformers/all-MiniLM-L6-v2 it produces 384-dimensional embeddings.
func DefaultEmbedder(modelDir string, modelName string) (*HugotEmbedder, error) {
	modelPath, err := helper.PrepareModel(modelDir, modelName, "onnx/model.onnx")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return &HugotEmbedder{
		session:  session,
		pipeline: sentencePipeline,
	}, nil
}

func (e *HugotEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedMany runs one forward pass over texts. Calls are serialized because
// a hugot pipeline is not safe for concurrent use.
func (e *HugotEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmbeddingFailure, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", model.ErrEmbeddingFailure, len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}

// FuncEmbedder adapts an EmbedFunc to the Embedder interface.
type FuncEmbedder struct {
	Embed EmbedFunc
}

func (f FuncEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (f FuncEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings, err := f.Embed(texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmbeddingFailure, err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", model.ErrEmbeddingFailure, len(embeddings), len(texts))
	}
	return embeddings, nil
}
