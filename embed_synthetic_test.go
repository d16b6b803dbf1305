package openmemory

import (
	"context"
	"testing"
)

func TestSyntheticEmbedderDeterministic(t *testing.T) {
	e := NewSyntheticEmbedder(16)
	a, err := e.Embed(context.Background(), "the quick brown fox", "RETRIEVAL_DOCUMENT")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "the quick brown fox", "RETRIEVAL_DOCUMENT")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embeddings, diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSyntheticEmbedderDimension(t *testing.T) {
	e := NewSyntheticEmbedder(24)
	if e.Dimension() != 24 {
		t.Errorf("got %d, want 24", e.Dimension())
	}
	v, err := e.Embed(context.Background(), "hello world", "RETRIEVAL_QUERY")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 24 {
		t.Errorf("expected vector of length 24, got %d", len(v))
	}
}

func TestSyntheticEmbedderDistinguishesText(t *testing.T) {
	e := NewSyntheticEmbedder(32)
	a, _ := e.Embed(context.Background(), "cats are wonderful pets", "RETRIEVAL_DOCUMENT")
	b, _ := e.Embed(context.Background(), "quantum computing uses qubits", "RETRIEVAL_DOCUMENT")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected distinct text to produce distinct embeddings")
	}
}
