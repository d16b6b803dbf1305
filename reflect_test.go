package openmemory

import (
	"context"
	"testing"
	"time"
)

func memoriesForReflection(n int, content string, sector Sector) []Memory {
	now := time.Now()
	out := make([]Memory, n)
	for i := 0; i < n; i++ {
		out[i] = Memory{
			ID:            string(rune('a' + i)),
			UserID:        "u1",
			Content:       content,
			PrimarySector: sector,
			SimHash:       SimHash(content),
			Salience:      0.5,
			CreatedAt:     now.Add(time.Duration(i) * time.Minute),
			LastSeenAt:    now,
		}
	}
	return out
}

func TestClusterBySimhashGroupsNearDuplicates(t *testing.T) {
	members := memoriesForReflection(4, "the weekly status meeting went well today", SectorSemantic)
	clusters := clusterBySimhashAndKeywords(members, 3, 3)
	if len(clusters) != 1 {
		t.Fatalf("expected all near-identical memories in one cluster, got %d clusters", len(clusters))
	}
	if len(clusters[0].members) != 4 {
		t.Errorf("expected 4 members, got %d", len(clusters[0].members))
	}
}

func TestClusterBySimhashSeparatesUnrelatedContent(t *testing.T) {
	a := memoriesForReflection(2, "the weekly status meeting went well today", SectorSemantic)
	b := memoriesForReflection(2, "grandma's lasagna recipe uses fresh basil", SectorSemantic)
	for i := range b {
		b[i].ID = "x" + b[i].ID
	}
	clusters := clusterBySimhashAndKeywords(append(a, b...), 3, 3)
	if len(clusters) != 2 {
		t.Errorf("expected two distinct clusters, got %d", len(clusters))
	}
}

func TestClusterSalienceFormula(t *testing.T) {
	now := time.Now()
	members := []Memory{
		{PrimarySector: SectorSemantic, LastSeenAt: now},
		{PrimarySector: SectorSemantic, LastSeenAt: now},
	}
	s := clusterSalience(members, now)
	// n/10 term dominates with fresh recency (avg_recency ~= 1) and no emotional bonus.
	want := 0.6*(2.0/10.0) + 0.3*1.0
	if s < want-0.01 || s > want+0.01 {
		t.Errorf("got %v, want ~%v", s, want)
	}
}

func TestClusterSalienceEmotionalBonus(t *testing.T) {
	now := time.Now()
	withEmotional := clusterSalience([]Memory{{PrimarySector: SectorEmotional, LastSeenAt: now}}, now)
	withoutEmotional := clusterSalience([]Memory{{PrimarySector: SectorSemantic, LastSeenAt: now}}, now)
	if withEmotional <= withoutEmotional {
		t.Errorf("emotional cluster should score higher: with=%v without=%v", withEmotional, withoutEmotional)
	}
}

func TestAllConsolidated(t *testing.T) {
	yes := []Memory{{Metadata: Metadata{Consolidated: true}}, {Metadata: Metadata{Consolidated: true}}}
	if !allConsolidated(yes) {
		t.Error("expected all-consolidated to be true")
	}
	no := []Memory{{Metadata: Metadata{Consolidated: true}}, {Metadata: Metadata{Consolidated: false}}}
	if allConsolidated(no) {
		t.Error("expected all-consolidated to be false when one member is fresh")
	}
}

func TestRunReflectionSkipsBelowMinimumAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	vs := NewVectorStore(8, DefaultWaypointConfig())
	cfg := Config{}
	cfg.ApplyDefaults()
	embedder := NewEmbedder(cfg)

	now := time.Now()
	for i := 0; i < 3; i++ {
		m := Memory{
			ID:            string(rune('a' + i)),
			UserID:        "u1",
			Content:       "the weekly status meeting went well again today",
			PrimarySector: SectorSemantic,
			Sectors:       []Sector{SectorSemantic},
			SimHash:       SimHash("the weekly status meeting went well again today"),
			Salience:      0.5,
			CreatedAt:     now.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     now,
			LastSeenAt:    now,
			Version:       1,
		}
		if err := s.InsertMemory(m); err != nil {
			t.Fatal(err)
		}
	}

	created, err := RunReflection(context.Background(), s, vs, embedder, cfg, ReflectOptions{UserID: "u1", Sector: SectorSemantic, MinMemories: 5})
	if err != nil {
		t.Fatalf("RunReflection: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected no reflection below minimum cluster size, got %d", len(created))
	}

	created, err = RunReflection(context.Background(), s, vs, embedder, cfg, ReflectOptions{UserID: "u1", Sector: SectorSemantic, MinMemories: 3})
	if err != nil {
		t.Fatalf("RunReflection: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected exactly one reflection, got %d", len(created))
	}

	for i := 0; i < 3; i++ {
		src, err := s.GetMemory(string(rune('a' + i)))
		if err != nil {
			t.Fatal(err)
		}
		if !src.Metadata.Consolidated {
			t.Errorf("expected source %s to be marked consolidated", src.ID)
		}
		want := 0.5 * 1.1
		if src.Salience < want-0.001 || src.Salience > want+0.001 {
			t.Errorf("expected source %s salience boosted to ~%v, got %v", src.ID, want, src.Salience)
		}
	}

	// Re-running should not produce a duplicate: sources are now consolidated.
	again, err := RunReflection(context.Background(), s, vs, embedder, cfg, ReflectOptions{UserID: "u1", Sector: SectorSemantic, MinMemories: 3})
	if err != nil {
		t.Fatalf("RunReflection (rerun): %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected idempotent rerun to produce no new reflections, got %d", len(again))
	}
}

func TestSummarizeClusterMentionsRecurrence(t *testing.T) {
	members := memoriesForReflection(3, "budget planning budget review budget approval", SectorSemantic)
	summary := summarizeCluster(members)
	if summary == "" {
		t.Fatal("expected non-empty summary")
	}
}
