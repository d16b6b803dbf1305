package openmemory

import (
	"context"
	"math"
	"testing"
)

func TestApplySalienceBump(t *testing.T) {
	cases := []struct {
		name     string
		s        float64
		explicit bool
		want     float64
	}{
		{"explicit from zero", 0, true, 0.1},
		{"implicit from zero", 0, false, 0.05},
		{"explicit saturates toward one", 0.9, true, 0.9 + 0.1*0.1},
		{"clamps at one", 1, true, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ApplySalienceBump(c.s, c.explicit)
			if math.Abs(got-c.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestApplyReflectionBoost(t *testing.T) {
	if got := ApplyReflectionBoost(0.5); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("got %v, want 0.55", got)
	}
	if got := ApplyReflectionBoost(0.99); got > 1 {
		t.Errorf("boost must clamp at 1, got %v", got)
	}
}

func TestTimeDecayRespectsFloor(t *testing.T) {
	got := TimeDecay(1.0, decayLambdaFromHalfLife(24), 24*1000, 0.02)
	if got != 0.02 {
		t.Errorf("expected floor 0.02 after long decay, got %v", got)
	}
}

func TestTimeDecayHalfLife(t *testing.T) {
	lambda := decayLambdaFromHalfLife(24)
	got := TimeDecay(1.0, lambda, 24, 0)
	if math.Abs(got-0.5) > 1e-6 {
		t.Errorf("one half-life should halve salience, got %v", got)
	}
}

func TestApplyEdgeDelta(t *testing.T) {
	got := ApplyEdgeDelta(0.5, 1.0, 2)
	want := 0.5 + 1.0*0.1/2
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

type fakeEdgeLookup map[string][]Edge

func (f fakeEdgeLookup) OutgoingEdges(memoryID string) ([]Edge, error) {
	return f[memoryID], nil
}

// TestPropagateWorkedExample reproduces the worked example: A--0.8-->B--0.6-->C,
// propagate(A, 0.2, depth=2) should give B a delta of 0.08 and C a delta of 0.024.
func TestPropagateWorkedExample(t *testing.T) {
	graph := fakeEdgeLookup{
		"A": {{SrcID: "A", DstID: "B", Weight: 0.8}},
		"B": {{SrcID: "B", DstID: "C", Weight: 0.6}},
		"C": {},
	}

	results, err := Propagate(context.Background(), graph, "A", 0.2, 2)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}

	byID := make(map[string]PropagationResult)
	for _, r := range results {
		byID[r.MemoryID] = r
	}

	b, ok := byID["B"]
	if !ok {
		t.Fatal("expected B in results")
	}
	if math.Abs(b.Delta-0.08) > 1e-9 {
		t.Errorf("B delta = %v, want 0.08", b.Delta)
	}

	if b.FromID != "A" {
		t.Errorf("B should be reached from A, got FromID=%q", b.FromID)
	}

	c, ok := byID["C"]
	if !ok {
		t.Fatal("expected C in results")
	}
	if math.Abs(c.Delta-0.024) > 1e-9 {
		t.Errorf("C delta = %v, want 0.024", c.Delta)
	}
	if c.FromID != "B" {
		t.Errorf("C should be reached from B, not the original source, got FromID=%q", c.FromID)
	}
}

func TestApplyExplicitBoost(t *testing.T) {
	if got := ApplyExplicitBoost(0, 0.2); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("got %v, want 0.2", got)
	}
	if got := ApplyExplicitBoost(1, 0.5); got != 1 {
		t.Errorf("expected clamp at 1, got %v", got)
	}
}

func TestPropagateVisitsEachNodeOnce(t *testing.T) {
	graph := fakeEdgeLookup{
		"A": {
			{SrcID: "A", DstID: "B", Weight: 0.9},
			{SrcID: "A", DstID: "C", Weight: 0.9},
		},
		"B": {{SrcID: "B", DstID: "D", Weight: 0.9}},
		"C": {{SrcID: "C", DstID: "D", Weight: 0.9}},
	}

	results, err := Propagate(context.Background(), graph, "A", 0.5, 3)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}

	count := 0
	for _, r := range results {
		if r.MemoryID == "D" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("D should be updated exactly once, got %d", count)
	}
}

func TestPropagateZeroDepthReturnsNothing(t *testing.T) {
	results, err := Propagate(context.Background(), fakeEdgeLookup{}, "A", 0.5, 0)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results at depth 0, got %d", len(results))
	}
}

func TestShouldTombstone(t *testing.T) {
	now := parseTime("2026-07-30 00:00:00")
	atFloor := parseTime("2026-07-26 00:00:00")
	if shouldTombstone(0.5, 0.02, atFloor, now, 3) {
		t.Error("above floor should never tombstone")
	}
	if !shouldTombstone(0.02, 0.02, atFloor, now, 3) {
		t.Error("4 days at floor with 3 day grace should tombstone")
	}
	if shouldTombstone(0.02, 0.02, now, now, 3) {
		t.Error("just hit floor should not tombstone yet")
	}
}
