package openmemory

import (
	"math"
	"time"
)

// FusionScore blends similarity, salience-weighted recency, keyword
// overlap, and cross-sector resonance into the single ranking number
// retrieval sorts on:
//
//	score = w.Cos*cos + w.Sal*(salience*recencyFactor) + w.Kw*keywordOverlap + w.Res*resonance
//
// recencyFactor decays exponentially with hours since last access,
// independent of the memory's own stored decay lambda (recency here is a
// retrieval-time freshness signal, not the stored salience dynamics).
func FusionScore(w ScoringWeights, cos, salience, hoursSinceAccess, keywordOverlap, resonance float64) float64 {
	recency := math.Exp(-0.01 * hoursSinceAccess)
	return w.Cos*cos + w.Sal*(salience*recency) + w.Kw*keywordOverlap + w.Res*resonance
}

// HoursSince returns fractional hours elapsed, never negative.
func HoursSince(now, t time.Time) float64 {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return d.Hours()
}
