package openmemory

import (
	"context"
	"sort"
	"time"

	"golang.org/x/exp/slices"
)

// QueryOptions parameterizes one retrieval call.
type QueryOptions struct {
	UserID      string
	Query       string
	Limit       int
	Sectors     []Sector // optional explicit sector restriction; empty = route automatically
	MinSalience float64  // optional: drop candidates below this salience
	Tags        []string // optional: keep only candidates sharing at least one of these tags
}

// matchesTags reports whether m carries at least one of the requested tags.
// An empty filter always matches.
func matchesTags(memoryTags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if slices.Contains(memoryTags, t) {
			return true
		}
	}
	return false
}

// QueryResult is one scored, deduped candidate returned from Query.
type QueryResult struct {
	Memory Memory
	Score  float64
	Path   []Sector // every sector this memory was found under before dedup
}

const (
	candidateFanout = 4 // k' = k * F per-sector over-fetch before fusion+dedup
	maxRoutedSectors = 3
)

// routeSectors implements step 2: score every candidate sector by routing
// weight plus cosine to its identity centroid, then keep the top
// maxRoutedSectors (or every restricted sector if the caller explicitly
// restricted them). Sectors with no members yet rank below every sector
// that has members.
func routeSectors(queryVec []float32, vs *VectorStore, userID string, cfg Config, restrict []Sector) []Sector {
	pool := restrict
	if len(pool) == 0 {
		pool = AllSectors
	}

	type scored struct {
		sec   Sector
		score float64
		empty bool
	}
	var scoredSectors []scored
	for _, sec := range pool {
		sc := cfg.Sectors[sec]
		centroid := vs.IdentityCentroid(userID, sec)
		avgCos := 0.0
		if centroid != nil {
			avgCos = cosine(queryVec, centroid)
		}
		scoredSectors = append(scoredSectors, scored{sec: sec, score: sc.RoutingWeight + avgCos, empty: centroid == nil})
	}
	sort.Slice(scoredSectors, func(i, j int) bool {
		if scoredSectors[i].empty != scoredSectors[j].empty {
			return !scoredSectors[i].empty
		}
		return scoredSectors[i].score > scoredSectors[j].score
	})

	limit := maxRoutedSectors
	if len(restrict) > 0 {
		limit = len(restrict)
	}
	if limit > len(scoredSectors) {
		limit = len(scoredSectors)
	}
	out := make([]Sector, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, scoredSectors[i].sec)
	}
	return out
}

// Query implements the full hybrid-sectored-graph retrieval procedure.
func Query(ctx context.Context, store *Store, vs *VectorStore, embedder *Embedder, cfg Config, opts QueryOptions) ([]QueryResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	embedRes, err := embedder.EmbedSimple(ctx, opts.Query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, errEmbedding("query", err)
	}
	queryVec := embedRes.Vector
	queryKeywords := Keywords(opts.Query, cfg.KeywordMinLength)

	routed := routeSectors(queryVec, vs, opts.UserID, cfg, opts.Sectors)

	fetchK := opts.Limit * candidateFanout
	now := time.Now()

	type found struct {
		memoryID string
		cos      float64
		sector   Sector
	}
	var all []found

	for _, sec := range routed {
		select {
		case <-ctx.Done():
			return nil, errTimeout("query", ctx.Err())
		default:
		}
		// A scan failure degrades this sector to zero candidates rather
		// than failing the whole query.
		entries := vs.TopK(opts.UserID, sec, queryVec, fetchK)
		for _, e := range entries {
			all = append(all, found{memoryID: e.memoryID, cos: e.score, sector: sec})
		}
	}

	byID := make(map[string]*QueryResult)
	for _, f := range all {
		m, err := store.GetMemory(f.memoryID)
		if err != nil {
			continue // memory may have been deleted/tombstoned since indexing
		}
		if m.Tombstoned {
			continue
		}
		// Step 5: drop candidates failing min_salience, user_id, or tags.
		if opts.UserID != "" && m.UserID != opts.UserID {
			continue
		}
		if m.Salience < opts.MinSalience {
			continue
		}
		if !matchesTags(m.Tags, opts.Tags) {
			continue
		}

		hours := HoursSince(now, m.LastSeenAt)
		kwOverlap := KeywordOverlap(queryKeywords, Keywords(m.Content, cfg.KeywordMinLength))
		res := resonance(f.sector, m.PrimarySector)
		score := FusionScore(cfg.FusionWeights, f.cos, m.Salience, hours, kwOverlap, res)

		if existing, ok := byID[m.ID]; ok {
			existing.Path = append(existing.Path, f.sector)
			if score > existing.Score {
				existing.Score = score
			}
			continue
		}
		byID[m.ID] = &QueryResult{Memory: m, Score: score, Path: []Sector{f.sector}}
	}

	results := make([]QueryResult, 0, len(byID))
	for _, r := range byID {
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Memory.LastSeenAt.Equal(results[j].Memory.LastSeenAt) {
			return results[i].Memory.LastSeenAt.After(results[j].Memory.LastSeenAt)
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results, nil
}

// ApplyRetrievalSideEffects implements step 9: every returned memory gets
// an implicit salience bump, and co-retrieved memories (those appearing
// together in the same result page) get a co-activation edge in each
// direction: a new edge starts at weight 0.55, an existing one gains 0.02
// (clamped to 1). lock serializes each per-memory mutation against
// concurrent Reinforce/Propagate/decay activity on the same id.
func ApplyRetrievalSideEffects(store *Store, results []QueryResult, at time.Time, lock func(string) func()) error {
	for _, r := range results {
		unlock := lock(r.Memory.ID)
		newSalience := ApplySalienceBump(r.Memory.Salience, false)
		err := store.UpdateSalience(r.Memory.ID, newSalience, at)
		unlock()
		if err != nil {
			return err
		}
	}

	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i].Memory.ID, results[j].Memory.ID
			for _, pair := range [2][2]string{{a, b}, {b, a}} {
				weight := 0.55
				existing, err := store.OutgoingEdges(pair[0])
				if err != nil {
					return err
				}
				for _, e := range existing {
					if e.DstID == pair[1] && e.Relation == defaultRelation {
						weight = clampFloat(e.Weight+0.02, 0, 1)
					}
				}
				if err := store.UpsertEdge(Edge{SrcID: pair[0], DstID: pair[1], Relation: defaultRelation, Weight: weight, LastUpdated: at}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
