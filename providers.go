package openmemory

import "context"

// SectorClassifier supplies an optional sector hint used only as input
// signal; the authoritative primary-sector decision is always the
// identity-centroid classification in classify.go. Implementations may
// be pure heuristics or LLM-backed, synchronous or eventually-consistent.
type SectorClassifier interface {
	Classify(content string) Sector
}

// EntityExtractor pulls named entities out of memory content for
// associative-edge creation (entities.go).
type EntityExtractor interface {
	Extract(content string) []ExtractedEntity
}

// ExtractedEntity is a named span pulled from memory content.
type ExtractedEntity struct {
	Text string
	Type string
}

// Reflection is a synthesized observation produced by clustering a sector's
// recent memories.
type Reflection struct {
	Content  string
	Salience float64
	Sector   Sector
	Sources  []string // memory ids consolidated into this reflection
}

// ReflectionProvider optionally rewrites a deterministically-clustered
// reflection's phrasing (e.g. via an LLM). It never decides membership or
// salience — the clustering in reflect.go is the authoritative,
// deterministic path; this is pure enrichment and is skipped on error.
type ReflectionProvider interface {
	Enrich(ctx context.Context, cluster []Memory, draft string) (string, error)
}
