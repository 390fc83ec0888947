package embeddings

import (
	"context"
	"math"
	"testing"
)

func TestMockProviderDeterministic(t *testing.T) {
	p, err := NewMockProvider(64, 100)
	if err != nil {
		t.Fatalf("NewMockProvider: %v", err)
	}
	ctx := context.Background()

	a, err := p.EmbedBatch(ctx, []string{"func Add(a, b int) int { return a + b }"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	b, err := p.EmbedBatch(ctx, []string{"func Add(a, b int) int { return a + b }"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("expected dimension 64, got %d", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("expected identical embeddings for identical text")
		}
	}
}

func TestMockProviderDistinctTextsDiffer(t *testing.T) {
	p, _ := NewMockProvider(32, 100)
	ctx := context.Background()

	out, err := p.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	same := true
	for i := range out[0] {
		if out[0][i] != out[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different texts to produce different vectors")
	}
}

func TestMockProviderNormalized(t *testing.T) {
	p, _ := NewMockProvider(16, 100)
	out, err := p.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	var sumSquares float64
	for _, v := range out[0] {
		sumSquares += float64(v) * float64(v)
	}
	if math.Abs(sumSquares-1.0) > 1e-3 {
		t.Fatalf("expected unit-length vector, got magnitude^2=%f", sumSquares)
	}
}

func TestMockProviderNotReady(t *testing.T) {
	p, _ := NewMockProvider(16, 100)
	p.SetReady(false)
	if p.IsReady(context.Background()) {
		t.Fatalf("expected not ready")
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Fatalf("expected error when not ready")
	}
}
