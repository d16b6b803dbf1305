package openmemory

import (
	"math"
	"testing"
	"time"
)

func TestFusionScoreWeighting(t *testing.T) {
	w := DefaultScoringWeights()
	got := FusionScore(w, 1.0, 1.0, 0, 1.0, 1.0)
	want := w.Cos + w.Sal + w.Kw + w.Res
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("max-everything score = %v, want %v", got, want)
	}
}

func TestFusionScoreRecencyDecaysSalienceContribution(t *testing.T) {
	w := DefaultScoringWeights()
	fresh := FusionScore(w, 0, 1.0, 0, 0, 0)
	stale := FusionScore(w, 0, 1.0, 1000, 0, 0)
	if stale >= fresh {
		t.Errorf("older access should contribute less salience signal: fresh=%v stale=%v", fresh, stale)
	}
}

func TestHoursSinceNeverNegative(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	if got := HoursSince(now, future); got != 0 {
		t.Errorf("future timestamps should clamp to 0 hours elapsed, got %v", got)
	}
	if got := HoursSince(now.Add(2*time.Hour), now); math.Abs(got-2.0) > 1e-6 {
		t.Errorf("expected ~2 hours elapsed, got %v", got)
	}
}

func TestDecayLambdaFromHalfLife(t *testing.T) {
	if decayLambdaFromHalfLife(0) != 0 {
		t.Error("zero half-life should yield zero lambda")
	}
	lambda := decayLambdaFromHalfLife(24)
	if lambda <= 0 {
		t.Errorf("expected positive lambda, got %v", lambda)
	}
}

func TestResonanceSymmetricWithinSector(t *testing.T) {
	if resonance(SectorSemantic, SectorSemantic) != 1.0 {
		t.Error("a sector should fully resonate with itself")
	}
	if resonance(SectorSemantic, Sector("unknown")) != 0.2 {
		t.Error("unknown target sector should fall back to the default 0.2 resonance")
	}
}
