// Package embeddings implements the embedding provider (C7): a capability
// interface any model backend can satisfy, an Ollama-backed production
// implementation adapted from the teacher's client.go/batcher.go, and a
// deterministic mock for tests.
package embeddings

import "context"

// Provider turns chunk text into vectors. Every implementation is expected
// to batch internally, L2-normalize its output when configured to, enforce
// a maximum input token count, and behave deterministically for identical
// input (no randomness, no time-of-day dependence).
type Provider interface {
	ModelName() string
	EmbeddingDimension() int
	MaxTokens() int
	EncodeTokens(text string) int
	IsReady(ctx context.Context) bool
	EnsureReady(ctx context.Context) error
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
