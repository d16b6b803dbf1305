package openmemory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Engine is the public facade: every external caller (an MCP tool, a
// direct Go import) goes through these nine operations.
type Engine struct {
	cfg      Config
	store    *Store
	vs       *VectorStore
	embedder *Embedder
	entities EntityExtractor
	stripes  *idStripes
	sched    *Scheduler
}

// New opens the engine: applies config defaults, opens the SQLite store,
// rebuilds the in-memory vector store from persisted vectors, and starts
// the maintenance scheduler after one synchronous decay pass.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	cfg.ApplyDefaults()

	store, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, errStorage("new", err)
	}

	vs := NewVectorStore(cfg.VectorDim, cfg.Waypoint)
	embedder := NewEmbedder(cfg)

	entities := EntityExtractor(NewHeuristicEntityExtractor())

	e := &Engine{
		cfg:      cfg,
		store:    store,
		vs:       vs,
		embedder: embedder,
		entities: entities,
		stripes:  newIDStripes(256),
	}

	if err := e.rebuildVectorStore(); err != nil {
		store.Close()
		return nil, err
	}

	e.sched = NewScheduler(store, cfg, e.runDecayJob, e.runPruneJob, e.runReflectJob, e.runUserSummaryJob)
	e.sched.Start(ctx)

	return e, nil
}

func (e *Engine) rebuildVectorStore() error {
	memories, err := e.store.AllActive()
	if err != nil {
		return errStorage("rebuild_vector_store", err)
	}
	for _, m := range memories {
		for _, sec := range m.Sectors {
			vec, ok, err := e.store.GetVector(m.ID, sec)
			if err != nil {
				return errStorage("rebuild_vector_store", err)
			}
			if ok {
				e.vs.Upsert(m.UserID, sec, m.ID, vec, m.Salience)
			}
		}
	}
	return nil
}

// Close stops the maintenance scheduler and the SQLite connection.
func (e *Engine) Close() error {
	if e.sched != nil {
		e.sched.Close()
	}
	return e.store.Close()
}

// AddOptions parameterizes one write.
type AddOptions struct {
	UserID     string
	Content    string
	Tags       []string
	SectorHint Sector  // optional: skip classification in simple mode / cold-start fallback (no centroids yet) in advanced mode
	Salience   float64 // optional: default 0.5
}

// Add validates, embeds, classifies, and durably stores one new memory,
// returning the fully-populated record.
func (e *Engine) Add(ctx context.Context, opts AddOptions) (Memory, error) {
	if opts.UserID == "" {
		return Memory{}, errValidation("add", "user id is required")
	}
	if opts.Content == "" {
		return Memory{}, errValidation("add", "content is required")
	}
	if len(opts.Content) > e.cfg.MaxContentBytes {
		return Memory{}, errValidation("add", "content exceeds max_content_bytes")
	}

	unlock := e.stripes.Lock(opts.UserID)
	defer unlock()

	simhash := SimHash(opts.Content)
	if dup, ok, err := e.findDedup(opts.UserID, opts.Content, opts.Tags, simhash); err != nil {
		return Memory{}, err
	} else if ok {
		return dup, nil
	}

	salience := opts.Salience
	if salience <= 0 {
		salience = 0.5
	}

	sectors := AllSectors
	embedRes, err := e.embedder.EmbedPerSector(ctx, opts.Content, "RETRIEVAL_DOCUMENT", sectors)
	if err != nil {
		return Memory{}, err
	}

	centroids := make(map[Sector][]float32, len(sectors))
	for _, sec := range sectors {
		centroids[sec] = e.vs.IdentityCentroid(opts.UserID, sec)
	}

	var primary Sector
	var memberSectors []Sector
	primaryVec := embedRes.Vectors[SectorSemantic]

	if e.cfg.Mode == "advanced" {
		primary = ClassifyPrimarySector(primaryVec, centroids, opts.SectorHint)
		memberSectors = append([]Sector{primary}, AdditionalSectors(primaryVec, centroids, primary, e.cfg.ThetaMulti, e.cfg.MaxAdditionalSectors)...)
	} else {
		primary = opts.SectorHint
		if !ValidSector(primary) {
			if e.cfg.Classifier != nil {
				primary = e.cfg.Classifier.Classify(opts.Content)
			} else {
				primary = SectorSemantic
			}
		}
		memberSectors = []Sector{primary}
	}

	now := time.Now()
	meta := Metadata{Fallback: embedRes.UsedFallback}

	m := Memory{
		ID:            uuid.NewString(),
		UserID:        opts.UserID,
		Content:       opts.Content,
		PrimarySector: primary,
		Sectors:       memberSectors,
		Tags:          opts.Tags,
		Metadata:      meta,
		SimHash:       simhash,
		Salience:      clampFloat(salience, 0, 1),
		DecayLambda:   decayLambdaFromHalfLife(e.cfg.Sectors[primary].DecayHalfLifeHours),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
		Version:       1,
	}

	if err := e.store.InsertMemory(m); err != nil {
		return Memory{}, errStorage("add", err)
	}

	for _, sec := range memberSectors {
		vec := embedRes.Vectors[sec]
		if vec == nil {
			vec = primaryVec
		}
		if err := e.store.InsertVector(m.ID, sec, vec); err != nil {
			return Memory{}, errStorage("add", err)
		}
		e.vs.Upsert(opts.UserID, sec, m.ID, vec, m.Salience)
	}

	if err := e.store.UpsertUser(opts.UserID, now); err != nil {
		return Memory{}, errStorage("add", err)
	}

	if e.entities != nil {
		newEntities := e.entities.Extract(opts.Content)
		e.createCoOccurrenceEdges(opts.UserID, m, newEntities, now)
	}

	return m, nil
}

// findDedup implements the dedup-window idempotence rule: a near-duplicate
// (Hamming distance within threshold) submitted by the same user with the
// same tags inside the configured window returns the existing memory
// instead of creating a new one.
func (e *Engine) findDedup(userID, content string, tags []string, simhash uint64) (Memory, bool, error) {
	recent, err := e.store.ListByUser(userID, nil, 50)
	if err != nil {
		return Memory{}, false, errStorage("find_dedup", err)
	}
	window := time.Duration(e.cfg.DedupWindowMinutes) * time.Minute
	cutoff := time.Now().Add(-window)
	for _, m := range recent {
		if m.CreatedAt.Before(cutoff) {
			continue
		}
		if !sameTags(m.Tags, tags) {
			continue
		}
		if IsNearDuplicate(m.SimHash, simhash, e.cfg.SimhashHammingThreshold) {
			return m, true, nil
		}
	}
	return Memory{}, false, nil
}

// sameTags compares tag sets order-independently: two memories tagged
// ["a","b"] and ["b","a"] count as the same set for dedup purposes.
func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := slices.Clone(a), slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}

func (e *Engine) createCoOccurrenceEdges(userID string, m Memory, newEntities []ExtractedEntity, at time.Time) {
	if len(newEntities) == 0 {
		return
	}
	recent, err := e.store.ListByUser(userID, nil, 200)
	if err != nil {
		return
	}
	coOccurring := make(map[string][]string)
	for _, other := range recent {
		if other.ID == m.ID {
			continue
		}
		for _, ent := range e.entities.Extract(other.Content) {
			key := strings.ToLower(ent.Text)
			coOccurring[key] = append(coOccurring[key], other.ID)
		}
	}
	for _, edge := range coOccurrenceEdges(m.ID, newEntities, coOccurring) {
		edge.LastUpdated = at
		_ = e.store.UpsertEdge(edge)
	}
}

// Query runs retrieval and applies the post-response side effects
// (salience bump, co-activation edges) before returning.
func (e *Engine) Query(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	if opts.UserID == "" {
		return nil, errValidation("query", "user id is required")
	}
	results, err := Query(ctx, e.store, e.vs, e.embedder, e.cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := ApplyRetrievalSideEffects(e.store, results, time.Now(), e.stripes.Lock); err != nil {
		return nil, errStorage("query", err)
	}
	return results, nil
}

// Get loads one memory by id.
func (e *Engine) Get(ctx context.Context, memoryID string) (Memory, error) {
	return e.store.GetMemory(memoryID)
}

// List returns a user's active memories, optionally filtered to sectors.
func (e *Engine) List(ctx context.Context, userID string, sectors []Sector, limit int) ([]Memory, error) {
	if userID == "" {
		return nil, errValidation("list", "user id is required")
	}
	memories, err := e.store.ListByUser(userID, sectors, limit)
	if err != nil {
		return nil, errStorage("list", err)
	}
	return memories, nil
}

// Reinforce applies an explicit salience bump of the given magnitude
// (boost must be in [0.01, 1]) to one memory.
func (e *Engine) Reinforce(ctx context.Context, memoryID string, boost float64) (Memory, error) {
	if boost < 0.01 || boost > 1 {
		return Memory{}, errValidation("reinforce", "boost must be in [0.01, 1]")
	}

	unlock := e.stripes.Lock(memoryID)
	defer unlock()

	m, err := e.store.GetMemory(memoryID)
	if err != nil {
		return Memory{}, err
	}
	newSalience := ApplyExplicitBoost(m.Salience, boost)
	if err := e.store.UpdateSalience(memoryID, newSalience, time.Now()); err != nil {
		return Memory{}, errStorage("reinforce", err)
	}
	m.Salience = newSalience
	return m, nil
}

// Delete tombstones a memory (it remains until the grace period elapses
// and a decay sweep purges it).
func (e *Engine) Delete(ctx context.Context, memoryID string) error {
	unlock := e.stripes.Lock(memoryID)
	defer unlock()
	if err := e.store.Tombstone(memoryID, time.Now()); err != nil {
		return errStorage("delete", err)
	}
	return nil
}

// RunDecay runs one decay sweep synchronously and returns the number of
// memories whose salience changed plus the number of tombstoned memories
// purged.
func (e *Engine) RunDecay(ctx context.Context) (int64, error) {
	return e.runDecayJob(ctx)
}

// RunReflection clusters a user's memories in the given sector and stores
// any resulting reflections.
func (e *Engine) RunReflection(ctx context.Context, userID string, sector Sector) ([]Memory, error) {
	return RunReflection(ctx, e.store, e.vs, e.embedder, e.cfg, ReflectOptions{UserID: userID, Sector: sector})
}

// Propagate spreads a salience delta outward from source and applies it to
// every reached memory, strengthening the edges walked along the way.
func (e *Engine) Propagate(ctx context.Context, source string, delta float64) ([]PropagationResult, error) {
	results, err := Propagate(ctx, storeEdgeLookup{e.store}, source, delta, e.cfg.PropagationDepth)
	if err != nil {
		return nil, errStorage("propagate", err)
	}
	now := time.Now()
	for _, r := range results {
		unlock := e.stripes.Lock(r.MemoryID)
		m, err := e.store.GetMemory(r.MemoryID)
		if err != nil {
			unlock()
			continue
		}
		newSalience := clampFloat(m.Salience+r.Delta, 0, 1)
		_ = e.store.UpdateSalience(r.MemoryID, newSalience, now)
		unlock()

		// The edge that carried this hop runs from r.FromID (the
		// predecessor in the BFS walk), not from the original source —
		// for depth-2+ results that is an intermediate node, e.g. B→C
		// rather than A→C.
		edges, err := e.store.OutgoingEdges(r.FromID)
		if err != nil {
			continue
		}
		for _, edge := range edges {
			if edge.DstID == r.MemoryID {
				edge.Weight = ApplyEdgeDelta(edge.Weight, r.Delta, r.Depth)
				edge.LastUpdated = now
				_ = e.store.UpsertEdge(edge)
			}
		}
	}
	return results, nil
}

type storeEdgeLookup struct{ store *Store }

func (s storeEdgeLookup) OutgoingEdges(memoryID string) ([]Edge, error) {
	return s.store.OutgoingEdges(memoryID)
}

// --- scheduler job bodies ---

func (e *Engine) runDecayJob(ctx context.Context) (int64, error) {
	memories, err := e.store.AllActive()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	var updated int64

	for _, m := range memories {
		sc := e.cfg.Sectors[m.PrimarySector]
		hours := HoursSince(now, m.LastSeenAt)
		newSalience := TimeDecay(m.Salience, m.DecayLambda, hours, sc.MinSalienceFloor)

		unlock := e.stripes.Lock(m.ID)
		if newSalience != m.Salience {
			if err := e.store.UpdateDecay(m.ID, newSalience); err != nil {
				unlock()
				return updated, err
			}
			updated++
		}
		if newSalience <= sc.MinSalienceFloor {
			graceCutoff := m.LastSeenAt.Add(time.Duration(e.cfg.GraceDays*24) * time.Hour)
			if now.After(graceCutoff) {
				_ = e.store.Tombstone(m.ID, now)
			}
		}
		unlock()
	}

	if _, err := e.store.DecayEdges(e.cfg.Waypoint.ThetaPrune); err != nil {
		return updated, err
	}

	purged, err := e.store.Purge(now.Add(-time.Duration(e.cfg.GraceDays*24) * time.Hour))
	if err != nil {
		return updated, err
	}
	return updated + int64(purged), nil
}

func (e *Engine) runPruneJob(ctx context.Context) (int64, error) {
	users, err := e.store.GetActiveUserIDs()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, u := range users {
		total += int64(e.vs.PruneWaypoints(u))
	}
	return total, nil
}

func (e *Engine) runReflectJob(ctx context.Context) (int64, error) {
	users, err := e.store.GetActiveUserIDs()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, u := range users {
		for _, sec := range AllSectors {
			created, err := e.RunReflection(ctx, u, sec)
			if err != nil {
				continue
			}
			total += int64(len(created))
		}
	}
	return total, nil
}

func (e *Engine) runUserSummaryJob(ctx context.Context) (int64, error) {
	users, err := e.store.GetActiveUserIDs()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	var count int64
	for _, u := range users {
		memories, err := e.store.ListByUser(u, nil, 20)
		if err != nil || len(memories) == 0 {
			continue
		}
		summary := summarizeCluster(memories)
		if err := e.store.SetUserSummary(u, summary, now); err != nil {
			continue
		}
		count++
	}
	return count, nil
}
