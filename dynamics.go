package openmemory

import (
	"context"
	"math"
	"time"
)

const (
	betaExplicit = 0.1  // salience bump on explicit reinforcement (user-confirmed relevance)
	betaImplicit = 0.05 // salience bump on implicit reinforcement (surfaced in retrieval)
)

// ApplySalienceBump nudges salience toward 1 using diminishing returns:
//
//	s' = clamp(s + beta*(1-s), 0, 1)
//
// Implicit retrieval surfacing uses the small fixed betaImplicit so that
// repeated casual recall saturates slower than an explicit, caller-chosen
// reinforcement boost (see Engine.Reinforce).
func ApplySalienceBump(s float64, explicit bool) float64 {
	beta := betaImplicit
	if explicit {
		beta = betaExplicit
	}
	return clampFloat(s+beta*(1-s), 0, 1)
}

// ApplyExplicitBoost nudges salience toward 1 using the same diminishing
// returns curve as ApplySalienceBump, but with a caller-chosen beta instead
// of the fixed betaExplicit — the mechanism Engine.Reinforce uses to honor
// a caller-supplied boost magnitude.
func ApplyExplicitBoost(s, beta float64) float64 {
	return clampFloat(s+beta*(1-s), 0, 1)
}

// ApplyReflectionBoost is the one place salience grows multiplicatively
// rather than via the additive bump formula: a memory consolidated into a
// reflection cluster earns a 10% boost, reflecting that surviving
// consolidation is a stronger signal of durable relevance than a single
// retrieval hit. Reserved exclusively for reflection-sourced consolidation
// (see SPEC_FULL.md §9, salience formula divergence).
func ApplyReflectionBoost(s float64) float64 {
	return math.Min(1, s*1.1)
}

// TimeDecay applies exponential decay with a per-sector floor:
//
//	s' = max(floor, s * exp(-lambda*hours))
func TimeDecay(s, lambda, hours, floor float64) float64 {
	decayed := s * math.Exp(-lambda*hours)
	if decayed < floor {
		return floor
	}
	return decayed
}

// ApplyEdgeDelta nudges an edge weight by delta scaled down per hop:
//
//	w' = clamp(w + delta*0.1/d, 0, 1)
func ApplyEdgeDelta(w, delta float64, depth int) float64 {
	if depth <= 0 {
		depth = 1
	}
	return clampFloat(w+delta*0.1/float64(depth), 0, 1)
}

// PropagationResult records the salience bump applied to one reached node
// and the cumulative edge-weight product of the path that reached it.
type PropagationResult struct {
	MemoryID   string
	FromID     string // predecessor this node was reached from, for edge updates
	Delta      float64
	PathWeight float64
	Depth      int
}

// EdgeLookup returns the outgoing edges from a memory id.
type EdgeLookup interface {
	OutgoingEdges(memoryID string) ([]Edge, error)
}

// Propagate spreads an activation delta outward from source via a
// breadth-first walk up to maxDepth hops, carrying the *cumulative*
// product of edge weights along each path (not a single edge weight
// raised to the hop count): at depth d, a node reached via edges with
// weights w1..wd receives
//
//	delta * (w1*w2*...*wd) * decayPerHop(d)
//
// where decayPerHop(d) = 0.5^d. Each memory id is updated at most once,
// via its first arrival in BFS order (shallowest depth first, then edge
// order), which is not necessarily its highest-weight path.
//
// Worked example: A--0.8-->B--0.6-->C, propagate(A, 0.2, depth=2):
//
//	B: 0.2 * 0.8         * 0.5  = 0.08
//	C: 0.2 * 0.8*0.6      * 0.25 = 0.024
func Propagate(ctx context.Context, lookup EdgeLookup, source string, delta float64, maxDepth int) ([]PropagationResult, error) {
	if maxDepth <= 0 {
		return nil, nil
	}

	type frontierNode struct {
		id         string
		pathWeight float64
		depth      int
	}

	visited := map[string]bool{source: true}
	var results []PropagationResult
	frontier := []frontierNode{{id: source, pathWeight: 1.0, depth: 0}}

	for len(frontier) > 0 && frontier[0].depth < maxDepth {
		current := frontier[0]
		frontier = frontier[1:]

		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		edges, err := lookup.OutgoingEdges(current.id)
		if err != nil {
			return nil, err
		}
		nextDepth := current.depth + 1
		decay := math.Pow(0.5, float64(nextDepth))

		for _, e := range edges {
			if visited[e.DstID] {
				continue
			}
			visited[e.DstID] = true
			pw := current.pathWeight * e.Weight
			results = append(results, PropagationResult{
				MemoryID:   e.DstID,
				FromID:     current.id,
				Delta:      delta * pw * decay,
				PathWeight: pw,
				Depth:      nextDepth,
			})
			frontier = append(frontier, frontierNode{id: e.DstID, pathWeight: pw, depth: nextDepth})
		}
	}

	return results, nil
}

// DecayEdgeWeight applies the maintenance-pass edge decay to one weight: a
// small multiplicative fade independent of propagation. The decay sweep
// applies the same 0.995 factor in SQL (Store.DecayEdges) and does not call
// this function.
func DecayEdgeWeight(w float64) float64 {
	return w * 0.995
}

// shouldTombstone reports whether a decayed salience at or below its
// sector's floor, held there past graceDays, should be tombstoned.
func shouldTombstone(salience, floor float64, atFloorSince time.Time, now time.Time, graceDays float64) bool {
	if salience > floor {
		return false
	}
	return now.Sub(atFloorSince).Hours()/24.0 >= graceDays
}
