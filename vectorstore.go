package openmemory

import (
	"math"
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// scoredEntry is an in-memory vector paired with the cosine score computed
// against the last query it was checked against, plus the salience snapshot
// needed to break score ties deterministically.
type scoredEntry struct {
	memoryID string
	vector   []float32
	score    float64
	salience float64
}

// sectorIndex holds every member vector for one (user, sector) pair, plus
// the coarse waypoint (centroid) layer used to restrict scans once the
// sector grows past WMin members. Distinct from the teacher's
// entity-waypoint concept — this Waypoint is a cosine-cluster centroid,
// not a graph node (see DESIGN.md).
type sectorIndex struct {
	mu sync.RWMutex

	vectors   map[string][]float32 // memory id -> vector
	salience  map[string]float64   // memory id -> salience snapshot, for top_k tie-breaks
	waypoints map[string]*Waypoint // waypoint id -> waypoint
	member    map[string]string    // memory id -> waypoint id

	identitySum   []float32 // running sum for the identity centroid
	identityCount int

	cfg WaypointConfig
	dim int
	seq int
}

func newSectorIndex(dim int, cfg WaypointConfig) *sectorIndex {
	return &sectorIndex{
		vectors:   make(map[string][]float32),
		salience:  make(map[string]float64),
		waypoints: make(map[string]*Waypoint),
		member:    make(map[string]string),
		cfg:       cfg,
		dim:       dim,
	}
}

// IdentityCentroid returns the running-mean vector of every member ever
// upserted into this sector (used as the sector's classification anchor).
func (s *sectorIndex) IdentityCentroid() []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identityCount == 0 || s.identitySum == nil {
		return nil
	}
	out := make([]float32, len(s.identitySum))
	for i, v := range s.identitySum {
		out[i] = v / float32(s.identityCount)
	}
	return l2Normalize(out)
}

// Upsert adds or replaces a member vector and assigns/updates its waypoint.
// salience is a point-in-time snapshot used only to break top_k score ties;
// it is refreshed only when the memory is upserted again (Add, the startup
// rebuild, and reflection inserts call Upsert; reinforce and decay do not).
func (s *sectorIndex) Upsert(memoryID string, vec []float32, salience float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.vectors[memoryID]; !existed {
		if s.identitySum == nil {
			s.identitySum = make([]float32, len(vec))
		}
		for i, v := range vec {
			if i < len(s.identitySum) {
				s.identitySum[i] += v
			}
		}
		s.identityCount++
	}
	s.vectors[memoryID] = vec
	s.salience[memoryID] = salience
	s.assignWaypoint(memoryID, vec)
}

// Delete removes a member and detaches it from its waypoint.
func (s *sectorIndex) Delete(memoryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, memoryID)
	delete(s.salience, memoryID)
	if wpID, ok := s.member[memoryID]; ok {
		delete(s.member, memoryID)
		if wp, ok := s.waypoints[wpID]; ok {
			wp.MemberCount--
			if wp.MemberCount <= 0 {
				delete(s.waypoints, wpID)
			}
		}
	}
}

// assignWaypoint runs the online k-means-lite attach-or-create rule:
// attach to the nearest existing centroid if cosine >= ThetaAttach,
// otherwise spawn a new waypoint centered on this vector. Caller holds
// s.mu.
func (s *sectorIndex) assignWaypoint(memoryID string, vec []float32) {
	if len(s.vectors) < s.cfg.WMin {
		return // below population threshold: exact scan handles this sector
	}

	var best *Waypoint
	bestScore := -2.0
	for _, wp := range s.waypoints {
		score := cosine(vec, wp.Centroid)
		if score > bestScore {
			bestScore = score
			best = wp
		}
	}

	if best != nil && bestScore >= s.cfg.ThetaAttach {
		n := float32(best.MemberCount)
		for i := range best.Centroid {
			best.Centroid[i] = (best.Centroid[i]*n + vec[i]) / (n + 1)
		}
		best.Centroid = l2Normalize(best.Centroid)
		best.MemberCount++
		best.Strength = clampFloat(best.Strength+0.02, 0, 1)
		s.member[memoryID] = best.ID
		return
	}

	s.seq++
	wp := &Waypoint{
		ID:          waypointID(s.seq),
		Centroid:    append([]float32(nil), vec...),
		MemberCount: 1,
		Strength:    0.5,
	}
	s.waypoints[wp.ID] = wp
	s.member[memoryID] = wp.ID
}

func waypointID(seq int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	n := seq
	for i := 7; i >= 0; i-- {
		b[i] = hex[n&0xf]
		n >>= 4
	}
	return "wp_" + string(b)
}

// TopK returns up to k members ranked by cosine similarity to query. Below
// WMin population it exact-scans every member; above it, it probes only
// the top WProbe waypoints ranked by score*strength^alpha.
func (s *sectorIndex) TopK(query []float32, k int) []scoredEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) < s.cfg.WMin || len(s.waypoints) == 0 {
		return s.exactScan(query, k, maps.Keys(s.vectors))
	}

	type wpScore struct {
		id    string
		score float64
	}
	wps := make([]wpScore, 0, len(s.waypoints))
	for id, wp := range s.waypoints {
		sim := cosine(query, wp.Centroid)
		rank := sim * pow(wp.Strength, s.cfg.Alpha)
		wps = append(wps, wpScore{id: id, score: rank})
	}
	sort.Slice(wps, func(i, j int) bool { return wps[i].score > wps[j].score })

	probe := s.cfg.WProbe
	if probe > len(wps) {
		probe = len(wps)
	}
	probeSet := make(map[string]bool, probe)
	for i := 0; i < probe; i++ {
		probeSet[wps[i].id] = true
	}

	var candidates []string
	for id, wpID := range s.member {
		if probeSet[wpID] {
			candidates = append(candidates, id)
		}
	}
	return s.exactScan(query, k, candidates)
}

func (s *sectorIndex) exactScan(query []float32, k int, ids []string) []scoredEntry {
	entries := make([]scoredEntry, 0, len(ids))
	for _, id := range ids {
		vec, ok := s.vectors[id]
		if !ok {
			continue
		}
		entries = append(entries, scoredEntry{memoryID: id, vector: vec, score: cosine(query, vec), salience: s.salience[id]})
	}
	// Ties break by higher salience, then lexicographically smaller id, so
	// a given query returns the same ordering bit-for-bit regardless of
	// map-iteration order.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].salience != entries[j].salience {
			return entries[i].salience > entries[j].salience
		}
		return entries[i].memoryID < entries[j].memoryID
	})
	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// PruneWaypoints drops waypoints that fell below the strength/member
// floors during a maintenance sweep, then reassigns every unassigned member
// (including the pruned waypoints' members) with the attach-or-create rule,
// so no member drops out of probe-restricted scans.
func (s *sectorIndex) PruneWaypoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, wp := range s.waypoints {
		if wp.Strength < s.cfg.ThetaPrune || wp.MemberCount < s.cfg.MMin {
			delete(s.waypoints, id)
			pruned++
			for mID, wpID := range s.member {
				if wpID == id {
					delete(s.member, mID)
				}
			}
		}
	}
	for mID, vec := range s.vectors {
		if _, ok := s.member[mID]; !ok {
			s.assignWaypoint(mID, vec)
		}
	}
	return pruned
}

func pow(base, exp float64) float64 {
	return math.Pow(base, exp)
}

// VectorStore fans sectorIndex out per (user, sector) pair.
type VectorStore struct {
	mu      sync.RWMutex
	byUser  map[string]map[Sector]*sectorIndex
	dim     int
	wpCfg   WaypointConfig
}

// NewVectorStore builds an empty, in-memory vector store. The engine
// rebuilds it from the SQLite-backed store on startup.
func NewVectorStore(dim int, wpCfg WaypointConfig) *VectorStore {
	return &VectorStore{byUser: make(map[string]map[Sector]*sectorIndex), dim: dim, wpCfg: wpCfg}
}

func (v *VectorStore) indexFor(userID string, sector Sector) *sectorIndex {
	v.mu.Lock()
	defer v.mu.Unlock()
	sectors, ok := v.byUser[userID]
	if !ok {
		sectors = make(map[Sector]*sectorIndex)
		v.byUser[userID] = sectors
	}
	idx, ok := sectors[sector]
	if !ok {
		idx = newSectorIndex(v.dim, v.wpCfg)
		sectors[sector] = idx
	}
	return idx
}

// Upsert indexes a memory's vector under one sector for one user, along
// with the salience snapshot used to break top_k ties.
func (v *VectorStore) Upsert(userID string, sector Sector, memoryID string, vec []float32, salience float64) {
	v.indexFor(userID, sector).Upsert(memoryID, vec, salience)
}

// Delete removes a memory from one sector's index.
func (v *VectorStore) Delete(userID string, sector Sector, memoryID string) {
	v.indexFor(userID, sector).Delete(memoryID)
}

// TopK searches one user's sector for the k nearest members to query.
func (v *VectorStore) TopK(userID string, sector Sector, query []float32, k int) []scoredEntry {
	return v.indexFor(userID, sector).TopK(query, k)
}

// IdentityCentroid returns a user's running centroid for one sector, or
// nil if the sector is empty.
func (v *VectorStore) IdentityCentroid(userID string, sector Sector) []float32 {
	return v.indexFor(userID, sector).IdentityCentroid()
}

// PruneWaypoints sweeps every sector's waypoint layer for one user.
func (v *VectorStore) PruneWaypoints(userID string) int {
	v.mu.RLock()
	sectors := v.byUser[userID]
	v.mu.RUnlock()
	total := 0
	for _, idx := range sectors {
		total += idx.PruneWaypoints()
	}
	return total
}
