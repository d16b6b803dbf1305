package openmemory

import (
	"context"
	"hash/fnv"
	"strings"
)

// SyntheticEmbedder produces a deterministic, content-derived vector
// without calling any external model. It exists so cold-start operation
// and embedding-provider outages never block storage: the same text
// always maps to the same vector, so dedup and decay tests stay
// reproducible even with no model configured.
type SyntheticEmbedder struct {
	dim int
}

// NewSyntheticEmbedder returns a fallback embedder producing dim-length
// vectors.
func NewSyntheticEmbedder(dim int) *SyntheticEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &SyntheticEmbedder{dim: dim}
}

// Embed hashes each whitespace-separated token of text, salted by its
// position, into a fixed-length vector. taskType is accepted for interface
// compatibility and ignored.
func (s *SyntheticEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	v := make([]float32, s.dim)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for i, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		for j := 0; j < 4; j++ {
			shard := (sum >> (uint(j) * 16)) & 0xFFFF
			idx := int((sum ^ uint64(i*31+j))) % s.dim
			if idx < 0 {
				idx += s.dim
			}
			sign := float32(1)
			if shard%2 == 0 {
				sign = -1
			}
			v[idx] += sign * float32(shard%997) / 997.0
		}
	}
	return v, nil
}

// Dimension returns the configured vector length.
func (s *SyntheticEmbedder) Dimension() int { return s.dim }
