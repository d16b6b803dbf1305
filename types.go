package openmemory

import (
	"encoding/json"
	"time"
)

// Sector is one of the five fixed cognitive memory categories.
type Sector string

const (
	SectorEpisodic   Sector = "episodic"   // events, temporal experiences
	SectorSemantic   Sector = "semantic"   // facts, knowledge
	SectorProcedural Sector = "procedural" // skills, capabilities
	SectorEmotional  Sector = "emotional"  // feelings, sentiments
	SectorReflective Sector = "reflective" // insights, meta-cognition
)

// AllSectors lists the closed sector set in a stable order.
var AllSectors = []Sector{
	SectorEpisodic,
	SectorSemantic,
	SectorProcedural,
	SectorEmotional,
	SectorReflective,
}

// ValidSector reports whether s is one of the five fixed sectors.
func ValidSector(s Sector) bool {
	for _, v := range AllSectors {
		if v == s {
			return true
		}
	}
	return false
}

// SectorConfig holds the per-sector tunables: routing bias, decay rate
// (expressed as a half-life), and the salience floor below which a memory
// in that sector becomes eligible for tombstoning.
type SectorConfig struct {
	RoutingWeight      float64
	DecayHalfLifeHours float64
	MinSalienceFloor   float64
}

// DefaultSectorConfigs returns the stock per-sector configuration.
// Episodic and emotional memories linger (long half-life); reflective
// insights fade fastest, matching the teacher's DefaultDecayRates bias.
func DefaultSectorConfigs() map[Sector]SectorConfig {
	return map[Sector]SectorConfig{
		SectorEpisodic:   {RoutingWeight: 1.0, DecayHalfLifeHours: 24 * 14, MinSalienceFloor: 0.02},
		SectorSemantic:   {RoutingWeight: 1.0, DecayHalfLifeHours: 24 * 7, MinSalienceFloor: 0.02},
		SectorProcedural: {RoutingWeight: 1.0, DecayHalfLifeHours: 24 * 7, MinSalienceFloor: 0.02},
		SectorEmotional:  {RoutingWeight: 1.0, DecayHalfLifeHours: 24 * 14, MinSalienceFloor: 0.02},
		SectorReflective: {RoutingWeight: 1.1, DecayHalfLifeHours: 24 * 3, MinSalienceFloor: 0.02},
	}
}

const ln2 = 0.6931471805599453

// decayLambdaFromHalfLife converts a half-life (hours) to an exponential
// decay rate such that s' = s * exp(-lambda * hours).
func decayLambdaFromHalfLife(halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 0
	}
	return ln2 / halfLifeHours
}

// resonanceTable is the static cross-sector resonance bias used by the
// fusion formula: how strongly a candidate found in `from` resonates with
// a memory whose primary sector is `to`.
var resonanceTable = map[Sector]map[Sector]float64{
	SectorSemantic: {
		SectorSemantic: 1.0, SectorReflective: 0.8, SectorEpisodic: 0.3,
		SectorProcedural: 0.3, SectorEmotional: 0.2,
	},
	SectorReflective: {
		SectorReflective: 1.0, SectorSemantic: 0.8, SectorEpisodic: 0.4,
		SectorProcedural: 0.3, SectorEmotional: 0.4,
	},
	SectorEpisodic: {
		SectorEpisodic: 1.0, SectorProcedural: 0.5, SectorEmotional: 0.5,
		SectorSemantic: 0.3, SectorReflective: 0.4,
	},
	SectorProcedural: {
		SectorProcedural: 1.0, SectorEpisodic: 0.5, SectorSemantic: 0.3,
		SectorEmotional: 0.2, SectorReflective: 0.3,
	},
	SectorEmotional: {
		SectorEmotional: 1.0, SectorEpisodic: 0.5, SectorReflective: 0.4,
		SectorSemantic: 0.2, SectorProcedural: 0.2,
	},
}

// resonance returns the static cross-sector resonance between a candidate
// found in sector `from` and a memory whose primary sector is `to`.
func resonance(from, to Sector) float64 {
	if row, ok := resonanceTable[from]; ok {
		if v, ok := row[to]; ok {
			return v
		}
	}
	return 0.2
}

// Metadata is the schema-checked value type that replaces ad-hoc dynamic
// payloads (see DESIGN.md, Design Note 1). Known keys are typed fields;
// anything else rides in Extra.
type Metadata struct {
	Consolidated bool                       `json:"consolidated,omitempty"`
	Sources      []string                   `json:"sources,omitempty"`
	AutoReflect  bool                       `json:"auto_reflect,omitempty"`
	Type         string                     `json:"type,omitempty"`
	UserSummary  string                     `json:"user_summary,omitempty"`
	Freq         int                        `json:"freq,omitempty"`
	Fallback     bool                       `json:"fallback,omitempty"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
}

// Memory is the core unit of storage: free-form content filed under a
// primary sector, possibly indexed under additional sectors too.
type Memory struct {
	ID            string
	UserID        string
	Content       string
	PrimarySector Sector
	Sectors       []Sector // all sectors this memory is indexed under, primary included
	Tags          []string
	Metadata      Metadata
	SimHash       uint64
	Salience      float64
	DecayLambda   float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSeenAt    time.Time
	Version       uint32
	Tombstoned    bool
	TombstonedAt  time.Time
}

// SectorVector pairs a memory with its embedding in one sector.
type SectorVector struct {
	MemoryID string
	Sector   Sector
	Vector   []float32
	Norm     float32
}

// Waypoint is a coarse centroid grouping memories within one sector's ANN
// index, used to restrict scan scope. Distinct from the teacher's
// entity-waypoint concept (see DESIGN.md).
type Waypoint struct {
	ID          string
	Sector      Sector
	Centroid    []float32
	MemberCount int
	Strength    float64
	LastUpdated time.Time
}

// Edge is a directed, weighted associative link between two memories.
type Edge struct {
	SrcID       string
	DstID       string
	Relation    string
	Weight      float64
	LastUpdated time.Time
}

const defaultRelation = "associative"

// Stat is an append-only maintenance/telemetry log row.
type Stat struct {
	Type  string
	Count int64
	Ts    time.Time
}

// User is a derived record; Summary is never authoritative over the
// underlying memories.
type User struct {
	ID               string
	CreatedAt        time.Time
	Summary          string
	SummaryUpdatedAt time.Time
}

// ScoringWeights controls the linear fusion formula's coefficients.
type ScoringWeights struct {
	Cos float64 // similarity weight, default 0.6
	Sal float64 // salience*recency weight, default 0.2
	Kw  float64 // keyword overlap weight, default 0.15
	Res float64 // cross-sector resonance weight, default 0.05
}

// DefaultScoringWeights returns the default fusion coefficients.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Cos: 0.6, Sal: 0.2, Kw: 0.15, Res: 0.05}
}

// WaypointConfig controls the vector store's coarse-centroid ANN layer.
type WaypointConfig struct {
	WMin        int     // population above which a sector builds a waypoint layer
	ThetaAttach float64 // cosine threshold to attach to an existing centroid
	WProbe      int     // number of waypoints probed per query
	Alpha       float64 // exponent on strength in probe ranking
	ThetaPrune  float64 // strength below which a waypoint is prunable
	MMin        int     // member count below which a waypoint is prunable
}

// DefaultWaypointConfig returns the default waypoint tunables.
func DefaultWaypointConfig() WaypointConfig {
	return WaypointConfig{WMin: 200, ThetaAttach: 0.82, WProbe: 4, Alpha: 1.0, ThetaPrune: 0.05, MMin: 2}
}

// Config holds every engine-wide tunable.
type Config struct {
	DBPath    string
	VectorDim int
	Mode      string // "simple" or "advanced"

	Sectors map[Sector]SectorConfig

	DecayIntervalMinutes       int
	PruneIntervalMinutes       int
	ReflectIntervalMinutes     int
	UserSummaryIntervalMinutes int
	ReflectMin                 int
	GraceDays                  float64

	FusionWeights ScoringWeights
	Waypoint      WaypointConfig

	SimhashHammingThreshold int
	KeywordMinLength        int
	KeywordIndexCap         int
	DedupWindowMinutes      int
	MaxContentBytes         int
	EmbeddingTimeoutMs      int

	ThetaMulti           float64
	MaxAdditionalSectors int

	PropagationDepth int

	EmbeddingQueueHighWaterMark int

	// Providers. nil uses built-in defaults.
	EmbeddingProvider         EmbeddingProvider
	AdvancedEmbeddingProvider PerSectorEmbeddingProvider
	Classifier                SectorClassifier
	ReflectionProvider        ReflectionProvider

	resolved bool
}

// ApplyDefaults fills zero-valued fields with sensible defaults, the same
// pattern the teacher's Config.ApplyDefaults used.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./data/openmemory.db"
	}
	if c.VectorDim == 0 {
		c.VectorDim = 256
	}
	if c.Mode == "" {
		c.Mode = "simple"
	}
	if c.Sectors == nil {
		c.Sectors = DefaultSectorConfigs()
	} else {
		for s, d := range DefaultSectorConfigs() {
			if _, ok := c.Sectors[s]; !ok {
				c.Sectors[s] = d
			}
		}
	}
	if c.DecayIntervalMinutes == 0 {
		c.DecayIntervalMinutes = 1440
	}
	if c.PruneIntervalMinutes == 0 {
		c.PruneIntervalMinutes = 7 * 1440
	}
	if c.ReflectIntervalMinutes == 0 {
		c.ReflectIntervalMinutes = 10
	}
	if c.UserSummaryIntervalMinutes == 0 {
		c.UserSummaryIntervalMinutes = 6 * 60
	}
	if c.ReflectMin == 0 {
		c.ReflectMin = 20
	}
	if c.GraceDays == 0 {
		c.GraceDays = 3
	}
	if c.FusionWeights == (ScoringWeights{}) {
		c.FusionWeights = DefaultScoringWeights()
	}
	if c.Waypoint == (WaypointConfig{}) {
		c.Waypoint = DefaultWaypointConfig()
	}
	if c.SimhashHammingThreshold == 0 {
		c.SimhashHammingThreshold = 3
	}
	if c.KeywordMinLength == 0 {
		c.KeywordMinLength = 3
	}
	if c.KeywordIndexCap == 0 {
		c.KeywordIndexCap = 500
	}
	if c.DedupWindowMinutes == 0 {
		c.DedupWindowMinutes = 1
	}
	if c.MaxContentBytes == 0 {
		c.MaxContentBytes = 32 * 1024
	}
	if c.EmbeddingTimeoutMs == 0 {
		c.EmbeddingTimeoutMs = 30_000
	}
	if c.ThetaMulti == 0 {
		c.ThetaMulti = 0.55
	}
	if c.MaxAdditionalSectors == 0 {
		c.MaxAdditionalSectors = 3
	}
	if c.PropagationDepth == 0 {
		c.PropagationDepth = 2
	}
	if c.EmbeddingQueueHighWaterMark == 0 {
		c.EmbeddingQueueHighWaterMark = 64
	}
	c.resolved = true
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
