package openmemory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// reflectionCluster groups memories whose simhash fingerprints or keyword
// sets are close enough to be considered one recurring theme.
type reflectionCluster struct {
	members []Memory
}

// clusterBySimhashAndKeywords performs the deterministic grouping pass:
// two memories join the same cluster when their SimHash Hamming distance
// is within threshold OR their keyword Jaccard overlap exceeds 0.4.
// Greedy single-pass union — a memory joins the first cluster it matches,
// new clusters are opened for unmatched memories. Deterministic given a
// stable input order (callers pass memories sorted by created_at).
func clusterBySimhashAndKeywords(memories []Memory, hammingThreshold int, minLen int) []reflectionCluster {
	var clusters []reflectionCluster
	kwCache := make(map[string][]string, len(memories))
	for _, m := range memories {
		kwCache[m.ID] = Keywords(m.Content, minLen)
	}

	for _, m := range memories {
		placed := false
		for i := range clusters {
			rep := clusters[i].members[0]
			if IsNearDuplicate(m.SimHash, rep.SimHash, hammingThreshold) ||
				KeywordOverlap(kwCache[m.ID], kwCache[rep.ID]) > 0.4 {
				clusters[i].members = append(clusters[i].members, m)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, reflectionCluster{members: []Memory{m}})
		}
	}
	return clusters
}

// clusterSalience implements the resolved Open Question formula:
//
//	s_c = 0.6*(n/10) + 0.3*avg_recency + 0.1*has_emotional
//
// clamped into [0,1] (n/10 alone may exceed 1 for large clusters);
// avg_recency is the mean of each member's exp(-hours/168)
// freshness; has_emotional is 1 if any member's primary sector is
// emotional.
func clusterSalience(members []Memory, now time.Time) float64 {
	n := float64(len(members))
	var recencySum float64
	hasEmotional := 0.0
	for _, m := range members {
		hours := HoursSince(now, m.LastSeenAt)
		recencySum += math.Exp(-hours / 168.0)
		if m.PrimarySector == SectorEmotional {
			hasEmotional = 1.0
		}
	}
	avgRecency := recencySum / n
	s := 0.6*(n/10.0) + 0.3*avgRecency + 0.1*hasEmotional
	return clampFloat(s, 0, 1)
}

// ReflectOptions controls one reflection pass.
type ReflectOptions struct {
	UserID      string
	Sector      Sector // which sector's memories to cluster (reflective memories themselves are always excluded)
	MinMemories int    // minimum cluster size to synthesize a reflection (ReflectMin)
}

// RunReflection clusters a user's recent non-reflective memories in one
// sector, deterministically via SimHash/keyword similarity, and stores one
// new reflective Memory per cluster meeting the minimum size. Clusters
// whose members are all already marked metadata.consolidated are skipped
// (idempotent re-discovery guard): running reflection twice in a row
// without new memories produces no duplicate reflections.
func RunReflection(ctx context.Context, store *Store, vs *VectorStore, embedder *Embedder, cfg Config, opts ReflectOptions) ([]Memory, error) {
	if opts.MinMemories <= 0 {
		opts.MinMemories = cfg.ReflectMin
	}
	if opts.Sector == SectorReflective {
		return nil, nil
	}

	candidates, err := store.ListByUser(opts.UserID, []Sector{opts.Sector}, 0)
	if err != nil {
		return nil, errStorage("run_reflection", err)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	clusters := clusterBySimhashAndKeywords(candidates, cfg.SimhashHammingThreshold, cfg.KeywordMinLength)

	var created []Memory
	now := time.Now()

	for _, cl := range clusters {
		if len(cl.members) < opts.MinMemories {
			continue
		}
		if allConsolidated(cl.members) {
			continue
		}

		draft := summarizeCluster(cl.members)
		content := draft
		if cfg.ReflectionProvider != nil {
			if enriched, err := cfg.ReflectionProvider.Enrich(ctx, cl.members, draft); err == nil && enriched != "" {
				content = enriched
			} else if err != nil {
				log.Printf("[openmemory] reflection enrichment skipped: %v", err)
			}
		}

		sources := make([]string, 0, len(cl.members))
		for _, m := range cl.members {
			sources = append(sources, m.ID)
		}

		refl := Memory{
			ID:            uuid.NewString(),
			UserID:        opts.UserID,
			Content:       content,
			PrimarySector: SectorReflective,
			Sectors:       []Sector{SectorReflective},
			Metadata:      Metadata{Consolidated: true, Sources: sources, AutoReflect: true},
			SimHash:       SimHash(content),
			Salience:      ApplyReflectionBoost(clusterSalience(cl.members, now)),
			DecayLambda:   decayLambdaFromHalfLife(cfg.Sectors[SectorReflective].DecayHalfLifeHours),
			CreatedAt:     now,
			UpdatedAt:     now,
			LastSeenAt:    now,
			Version:       1,
		}

		if err := store.InsertMemory(refl); err != nil {
			log.Printf("[openmemory] store reflection failed: %v", err)
			continue
		}

		res, err := embedder.EmbedSimple(ctx, content, "RETRIEVAL_DOCUMENT")
		if err == nil {
			_ = store.InsertVector(refl.ID, SectorReflective, res.Vector)
			vs.Upsert(opts.UserID, SectorReflective, refl.ID, res.Vector, refl.Salience)
		}

		for _, m := range cl.members {
			m.Metadata.Consolidated = true
			_ = store.SetMetadata(m.ID, m.Metadata)
			_ = store.UpdateSalience(m.ID, ApplyReflectionBoost(m.Salience), now)
		}

		created = append(created, refl)
	}

	if len(created) > 0 {
		log.Printf("[openmemory] generated %d reflections for %s/%s", len(created), opts.UserID, opts.Sector)
	}
	return created, nil
}

func allConsolidated(members []Memory) bool {
	for _, m := range members {
		if !m.Metadata.Consolidated {
			return false
		}
	}
	return true
}

// summarizeCluster produces the deterministic draft reflection text: a
// plain statement naming the recurring theme's shared keywords and how
// many times it recurred. This is what ships when no ReflectionProvider
// is configured, and what the provider is asked to rephrase otherwise.
func summarizeCluster(members []Memory) string {
	kwCounts := make(map[string]int)
	for _, m := range members {
		for _, kw := range Keywords(m.Content, 3) {
			kwCounts[kw]++
		}
	}
	var top []string
	for kw, n := range kwCounts {
		if n >= 2 {
			top = append(top, kw)
		}
	}
	sort.Strings(top)
	if len(top) > 5 {
		top = top[:5]
	}
	if len(top) == 0 {
		return fmt.Sprintf("A recurring theme appeared across %d related memories.", len(members))
	}
	return fmt.Sprintf("A recurring theme around %s appeared across %d related memories.",
		strings.Join(top, ", "), len(members))
}
