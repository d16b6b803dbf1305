package openmemory

import (
	"context"
	"time"
)

// EmbeddingProvider turns text into a single vector. taskType is
// "RETRIEVAL_QUERY" for queries and "RETRIEVAL_DOCUMENT" for stored
// content, mirroring the teacher's Gemini provider convention; providers
// that don't distinguish task types ignore it.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text, taskType string) ([]float32, error)
	Dimension() int
}

// PerSectorEmbeddingProvider produces a distinct vector per sector for the
// same text, used in advanced mode.
type PerSectorEmbeddingProvider interface {
	EmbedPerSector(ctx context.Context, text, taskType string, sectors []Sector) (map[Sector][]float32, error)
	Dimension() int
}

// Embedder wraps a configured provider with timeout enforcement, L2
// normalization, and a deterministic synthetic fallback so retrieval never
// blocks indefinitely on an unavailable model and embeddings always exist.
type Embedder struct {
	simple   EmbeddingProvider
	advanced PerSectorEmbeddingProvider
	fallback *SyntheticEmbedder
	timeout  time.Duration
	mode     string
}

// NewEmbedder builds an Embedder from the resolved config.
func NewEmbedder(cfg Config) *Embedder {
	fb := NewSyntheticEmbedder(cfg.VectorDim)
	simple := cfg.EmbeddingProvider
	if simple == nil {
		simple = fb
	}
	return &Embedder{
		simple:   simple,
		advanced: cfg.AdvancedEmbeddingProvider,
		fallback: fb,
		timeout:  time.Duration(cfg.EmbeddingTimeoutMs) * time.Millisecond,
		mode:     cfg.Mode,
	}
}

// EmbedSimpleResult carries the outcome of a simple-mode embed, including
// whether the deterministic fallback had to be used.
type EmbedSimpleResult struct {
	Vector     []float32
	UsedFallback bool
}

// EmbedSimple produces one normalized vector, reused across all of a
// memory's sectors in simple mode. On provider failure or timeout it falls
// back to the deterministic synthetic embedder rather than failing the
// write outright.
func (e *Embedder) EmbedSimple(ctx context.Context, text, taskType string) (EmbedSimpleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.simple.Embed(ctx, text, taskType)
	if err != nil || len(vec) == 0 {
		fv, ferr := e.fallback.Embed(context.Background(), text, taskType)
		if ferr != nil {
			return EmbedSimpleResult{}, errEmbedding("embed_simple", err)
		}
		return EmbedSimpleResult{Vector: l2Normalize(fv), UsedFallback: true}, nil
	}
	return EmbedSimpleResult{Vector: l2Normalize(vec)}, nil
}

// EmbedPerSectorResult mirrors EmbedSimpleResult for advanced mode.
type EmbedPerSectorResult struct {
	Vectors      map[Sector][]float32
	UsedFallback bool
}

// EmbedPerSector produces one normalized vector per requested sector. If no
// advanced provider is configured, or it fails, every sector reuses the
// same fallback/simple vector (degrading gracefully to simple-mode
// semantics rather than erroring).
func (e *Embedder) EmbedPerSector(ctx context.Context, text, taskType string, sectors []Sector) (EmbedPerSectorResult, error) {
	if e.mode != "advanced" || e.advanced == nil {
		res, err := e.EmbedSimple(ctx, text, taskType)
		if err != nil {
			return EmbedPerSectorResult{}, err
		}
		out := make(map[Sector][]float32, len(sectors))
		for _, s := range sectors {
			out[s] = res.Vector
		}
		return EmbedPerSectorResult{Vectors: out, UsedFallback: res.UsedFallback}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vecs, err := e.advanced.EmbedPerSector(ctx, text, taskType, sectors)
	if err != nil || len(vecs) == 0 {
		res, ferr := e.EmbedSimple(context.Background(), text, taskType)
		if ferr != nil {
			return EmbedPerSectorResult{}, errEmbedding("embed_per_sector", err)
		}
		out := make(map[Sector][]float32, len(sectors))
		for _, s := range sectors {
			out[s] = res.Vector
		}
		return EmbedPerSectorResult{Vectors: out, UsedFallback: true}, nil
	}
	out := make(map[Sector][]float32, len(vecs))
	for s, v := range vecs {
		out[s] = l2Normalize(v)
	}
	return EmbedPerSectorResult{Vectors: out}, nil
}

// Dimension returns the configured embedding dimension.
func (e *Embedder) Dimension() int { return e.simple.Dimension() }
