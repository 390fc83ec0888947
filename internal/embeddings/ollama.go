package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/config"
)

// OllamaProvider talks to a local Ollama server's /api/embeddings endpoint,
// applying MRL (Matryoshka Representation Learning) dimension truncation and
// L2 normalization to the raw model output.
type OllamaProvider struct {
	cfg         config.EmbeddingsConfig
	baseURL     string
	httpClient  *http.Client
	encoder     *tiktoken.Tiktoken
	concurrency int
}

// NewOllamaProvider builds an OllamaProvider. concurrency bounds how many
// in-flight HTTP requests EmbedBatch issues at once.
func NewOllamaProvider(cfg config.EmbeddingsConfig, concurrency int) (*OllamaProvider, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, &apperr.EmbeddingError{Op: "load_tokenizer", Err: err}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	return &OllamaProvider{
		cfg:     cfg,
		baseURL: cfg.OllamaURL,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		encoder:     enc,
		concurrency: concurrency,
	}, nil
}

func (p *OllamaProvider) ModelName() string { return p.cfg.Model }

// EmbeddingDimension is the dimension a caller should expect from EmbedBatch:
// the MRL-truncated width when MRL is enabled, the model's native width
// otherwise.
func (p *OllamaProvider) EmbeddingDimension() int {
	full := p.fullDimension()
	if p.cfg.UseMRL && p.cfg.Dimensions > 0 && p.cfg.Dimensions < full {
		return p.cfg.Dimensions
	}
	return full
}

func (p *OllamaProvider) fullDimension() int {
	if p.cfg.FullDimension > 0 {
		return p.cfg.FullDimension
	}
	return 768
}

func (p *OllamaProvider) MaxTokens() int { return p.cfg.MaxTokens }

func (p *OllamaProvider) EncodeTokens(text string) int {
	return len(p.encoder.Encode(text, nil, nil))
}

// IsReady issues a cheap probe embedding and reports whether it succeeded.
func (p *OllamaProvider) IsReady(ctx context.Context) bool {
	_, err := p.embedOne(ctx, "ready probe")
	return err == nil
}

// EnsureReady blocks until IsReady succeeds or ctx is done.
func (p *OllamaProvider) EnsureReady(ctx context.Context) error {
	if p.IsReady(ctx) {
		return nil
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &apperr.EmbeddingError{Op: "ensure_ready", Err: ctx.Err()}
		case <-ticker.C:
			if p.IsReady(ctx) {
				return nil
			}
		}
	}
}

// EmbedBatch embeds every text with bounded concurrency, following the
// teacher's semaphore-gated fan-out: the first failure cancels the remaining
// in-flight requests instead of letting them run to a result nobody needs.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var firstErr sync.Once

	for i, text := range texts {
		wg.Add(1)
		go func(idx int, txt string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				return
			default:
			}

			vec, err := p.embedOne(ctx, txt)
			if err != nil {
				errs[idx] = err
				firstErr.Do(cancel)
				return
			}
			results[idx] = vec
		}(i, text)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, &apperr.EmbeddingError{Op: fmt.Sprintf("embed_batch[%d]", i), Err: err}
		}
	}
	return results, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	if p.cfg.MaxTokens > 0 {
		text = truncateToTokens(p.encoder, text, p.cfg.MaxTokens)
	}

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embeddings", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	full := p.fullDimension()
	if len(out.Embedding) != full {
		return nil, fmt.Errorf("expected %d dimensions from model, got %d", full, len(out.Embedding))
	}

	embedding := out.Embedding
	if p.cfg.UseMRL && p.cfg.Dimensions > 0 && p.cfg.Dimensions < full {
		embedding = applyMRL(embedding, p.cfg.Dimensions)
	}
	if p.cfg.Normalize {
		embedding = l2Normalize(embedding)
	}
	return embedding, nil
}

func truncateToTokens(enc *tiktoken.Tiktoken, text string, maxTokens int) string {
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}

// l2Normalize scales a vector to unit length so cosine similarity and dot
// product agree, matching the vector store's distance metric.
func l2Normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * inv
	}
	return out
}

// applyMRL truncates an MRL-trained embedding to a smaller leading-dimension
// slice. nomic-embed-text is trained so 64/128/256/512/768 all carry most of
// the semantic signal of the full vector.
func applyMRL(embedding []float32, targetDim int) []float32 {
	if targetDim <= 0 || targetDim > len(embedding) {
		return embedding
	}
	out := make([]float32, targetDim)
	copy(out, embedding[:targetDim])
	return out
}
