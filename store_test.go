package openmemory

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMemory(id, userID string, sector Sector) Memory {
	now := time.Now()
	return Memory{
		ID:            id,
		UserID:        userID,
		Content:       "test content",
		PrimarySector: sector,
		Sectors:       []Sector{sector},
		Tags:          []string{"t1"},
		Salience:      0.5,
		DecayLambda:   decayLambdaFromHalfLife(24),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
		Version:       1,
	}
}

func TestStoreInsertAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	m := newTestMemory("m1", "u1", SectorSemantic)
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	got, err := s.GetMemory("m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != m.Content || got.PrimarySector != m.PrimarySector {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.Sectors) != 1 || got.Sectors[0] != SectorSemantic {
		t.Errorf("expected sector membership to round-trip, got %v", got.Sectors)
	}
}

func TestStoreGetMemoryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMemory("missing")
	if !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestStoreVectorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := newTestMemory("m1", "u1", SectorSemantic)
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	vec := []float32{0.1, 0.2, 0.3}
	if err := s.InsertVector("m1", SectorSemantic, vec); err != nil {
		t.Fatalf("InsertVector: %v", err)
	}

	got, ok, err := s.GetVector("m1", SectorSemantic)
	if err != nil || !ok {
		t.Fatalf("GetVector: ok=%v err=%v", ok, err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vector round trip mismatch at %d: got %v want %v", i, got[i], vec[i])
		}
	}
}

func TestStoreUpdateSalienceNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSalience("missing", 0.5, time.Now())
	if !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestStoreTombstoneAndPurge(t *testing.T) {
	s := newTestStore(t)
	m := newTestMemory("m1", "u1", SectorSemantic)
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	past := time.Now().Add(-48 * time.Hour)
	if err := s.Tombstone("m1", past); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}

	active, err := s.AllActive()
	if err != nil {
		t.Fatalf("AllActive: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("tombstoned memory should not appear in AllActive, got %d", len(active))
	}

	purged, err := s.Purge(time.Now())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged row, got %d", purged)
	}

	if _, err := s.GetMemory("m1"); !IsKind(err, KindNotFound) {
		t.Error("purged memory should no longer be gettable")
	}
}

func TestStoreListByUserFiltersBySector(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertMemory(newTestMemory("m1", "u1", SectorSemantic)); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMemory(newTestMemory("m2", "u1", SectorEpisodic)); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListByUser("u1", []Sector{SectorSemantic}, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("expected only m1, got %+v", got)
	}
}

func TestStoreEdgeUpsertAndOutgoing(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b"} {
		if err := s.InsertMemory(newTestMemory(id, "u1", SectorSemantic)); err != nil {
			t.Fatal(err)
		}
	}

	e := Edge{SrcID: "a", DstID: "b", Relation: defaultRelation, Weight: 0.5, LastUpdated: time.Now()}
	if err := s.UpsertEdge(e); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	// Strengthening the same edge should update, not duplicate.
	e.Weight = 0.8
	if err := s.UpsertEdge(e); err != nil {
		t.Fatalf("UpsertEdge (update): %v", err)
	}

	edges, err := s.OutgoingEdges("a")
	if err != nil {
		t.Fatalf("OutgoingEdges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected exactly one outgoing edge, got %d", len(edges))
	}
	if edges[0].Weight != 0.8 {
		t.Errorf("expected updated weight 0.8, got %v", edges[0].Weight)
	}
}

func TestStoreDecayEdgesPrunesBelowFloor(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b"} {
		if err := s.InsertMemory(newTestMemory(id, "u1", SectorSemantic)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertEdge(Edge{SrcID: "a", DstID: "b", Relation: defaultRelation, Weight: 0.01, LastUpdated: time.Now()}); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.DecayEdges(0.05)
	if err != nil {
		t.Fatalf("DecayEdges: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected edge below floor to be pruned, got %d", pruned)
	}
}

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3.125}
	got := DecodeVector(EncodeVector(v))
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("mismatch at %d: got %v want %v", i, got[i], v[i])
		}
	}
}
