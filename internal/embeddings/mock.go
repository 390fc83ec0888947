package embeddings

import (
	"context"
	"crypto/sha256"

	"github.com/pkoukk/tiktoken-go"
)

// MockProvider is a deterministic test double: the same text always yields
// the same vector (derived from its SHA-256 hash), with no network calls and
// no randomness, so tests can assert on embeddings directly.
type MockProvider struct {
	dimension int
	maxTokens int
	model     string
	encoder   *tiktoken.Tiktoken
	ready     bool
}

// NewMockProvider builds a MockProvider. dimension and maxTokens default to
// 256 and 8192 when given as 0.
func NewMockProvider(dimension, maxTokens int) (*MockProvider, error) {
	if dimension <= 0 {
		dimension = 256
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &MockProvider{dimension: dimension, maxTokens: maxTokens, model: "mock-embed", encoder: enc, ready: true}, nil
}

func (m *MockProvider) ModelName() string          { return m.model }
func (m *MockProvider) EmbeddingDimension() int     { return m.dimension }
func (m *MockProvider) MaxTokens() int              { return m.maxTokens }
func (m *MockProvider) EncodeTokens(text string) int { return len(m.encoder.Encode(text, nil, nil)) }

// SetReady lets a test simulate the provider becoming unavailable.
func (m *MockProvider) SetReady(ready bool) { m.ready = ready }

func (m *MockProvider) IsReady(ctx context.Context) bool { return m.ready }

func (m *MockProvider) EnsureReady(ctx context.Context) error {
	if !m.ready {
		return errNotReady
	}
	return nil
}

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !m.ready {
		return nil, errNotReady
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, m.dimension)
	}
	return out, nil
}

// deterministicVector expands a SHA-256 hash of text into dimension floats
// in [-1, 1], then L2-normalizes, so cosine similarity behaves sensibly in
// tests without a real model.
func deterministicVector(text string, dimension int) []float32 {
	vec := make([]float32, dimension)
	seed := sha256.Sum256([]byte(text))
	for i := 0; i < dimension; i++ {
		b := seed[i%len(seed)]
		// Mix in the index so repeated hash bytes don't repeat identical values.
		mixed := byte(int(b) + i*31)
		vec[i] = float32(mixed)/127.5 - 1
	}
	return l2Normalize(vec)
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errNotReady = mockError("mock provider not ready")
