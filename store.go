package openmemory

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single-writer SQLite connection for durable persistence.
// Only one *sql.DB connection is ever open (SetMaxOpenConns(1)), the same
// concession the teacher made for its write-contention scale; callers
// serialize logically-conflicting writes themselves via idStripes.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and runs migrations.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("openmemory: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("openmemory: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("openmemory: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	// foreign_keys is a per-connection setting, so it is enabled on every
	// open, not only when the schema is first created.
	s.db.Exec(`PRAGMA foreign_keys = ON`)
	s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS memories (
				id              TEXT PRIMARY KEY,
				user_id         TEXT NOT NULL,
				content         TEXT NOT NULL,
				primary_sector  TEXT NOT NULL,
				tags            TEXT NOT NULL DEFAULT '[]',
				metadata        TEXT NOT NULL DEFAULT '{}',
				simhash         INTEGER NOT NULL DEFAULT 0,
				salience        REAL NOT NULL DEFAULT 0.5,
				decay_lambda    REAL NOT NULL DEFAULT 0.02,
				created_at      TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
				last_seen_at    TEXT NOT NULL DEFAULT (datetime('now')),
				version         INTEGER NOT NULL DEFAULT 1,
				tombstoned      INTEGER NOT NULL DEFAULT 0,
				tombstoned_at   TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_memories_user      ON memories(user_id);
			CREATE INDEX IF NOT EXISTS idx_memories_sector    ON memories(primary_sector);
			CREATE INDEX IF NOT EXISTS idx_memories_tombstone ON memories(tombstoned);

			CREATE TABLE IF NOT EXISTS memory_sectors (
				memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				sector    TEXT NOT NULL,
				PRIMARY KEY (memory_id, sector)
			);
			CREATE INDEX IF NOT EXISTS idx_msec_sector ON memory_sectors(sector);

			CREATE TABLE IF NOT EXISTS vectors (
				memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				sector    TEXT NOT NULL,
				vector    BLOB NOT NULL,
				PRIMARY KEY (memory_id, sector)
			);

			CREATE TABLE IF NOT EXISTS edges (
				src_id       TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				dst_id       TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				relation     TEXT NOT NULL DEFAULT 'associative',
				weight       REAL NOT NULL DEFAULT 0.5,
				last_updated TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (src_id, dst_id, relation)
			);
			CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src_id);
			CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_id);

			CREATE TABLE IF NOT EXISTS stats (
				type  TEXT NOT NULL,
				count INTEGER NOT NULL,
				ts    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS users (
				id                  TEXT PRIMARY KEY,
				created_at          TEXT NOT NULL DEFAULT (datetime('now')),
				summary             TEXT NOT NULL DEFAULT '',
				summary_updated_at  TEXT NOT NULL DEFAULT ''
			);

			PRAGMA foreign_keys = ON;
		`); err != nil {
			return err
		}
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	}

	return nil
}

// Close shuts down the database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- vector blob codec ---

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

// --- memory CRUD ---

// InsertMemory stores a new memory row and its additional-sector
// membership rows in one transaction.
func (s *Store) InsertMemory(m Memory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO memories (id, user_id, content, primary_sector, tags, metadata, simhash,
			salience, decay_lambda, created_at, updated_at, last_seen_at, version, tombstoned, tombstoned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, string(m.PrimarySector), string(tags), string(meta), int64(m.SimHash),
		m.Salience, m.DecayLambda, formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTime(m.LastSeenAt),
		m.Version, boolToInt(m.Tombstoned), formatTime(m.TombstonedAt),
	)
	if err != nil {
		return err
	}

	for _, sec := range m.Sectors {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO memory_sectors (memory_id, sector) VALUES (?, ?)`, m.ID, string(sec)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertVector stores an embedding blob for one (memory, sector) pair.
func (s *Store) InsertVector(memoryID string, sector Sector, vec []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO vectors (memory_id, sector, vector) VALUES (?, ?, ?)
		ON CONFLICT(memory_id, sector) DO UPDATE SET vector = excluded.vector`,
		memoryID, string(sector), EncodeVector(vec),
	)
	return err
}

const memorySelectCols = `id, user_id, content, primary_sector, tags, metadata, simhash,
	salience, decay_lambda, created_at, updated_at, last_seen_at, version, tombstoned, tombstoned_at`

func (s *Store) scanMemory(row interface{ Scan(...any) error }) (Memory, error) {
	var m Memory
	var sector, tags, meta, created, updated, lastSeen, tombstonedAt string
	var simhash int64
	var tombstoned int

	if err := row.Scan(
		&m.ID, &m.UserID, &m.Content, &sector, &tags, &meta, &simhash,
		&m.Salience, &m.DecayLambda, &created, &updated, &lastSeen, &m.Version, &tombstoned, &tombstonedAt,
	); err != nil {
		return m, err
	}

	m.PrimarySector = Sector(sector)
	m.SimHash = uint64(simhash)
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	m.LastSeenAt = parseTime(lastSeen)
	m.Tombstoned = tombstoned != 0
	m.TombstonedAt = parseTime(tombstonedAt)
	_ = json.Unmarshal([]byte(tags), &m.Tags)
	_ = json.Unmarshal([]byte(meta), &m.Metadata)
	return m, nil
}

// GetMemory loads one memory by id, including its full sector membership.
func (s *Store) GetMemory(id string) (Memory, error) {
	row := s.db.QueryRow(`SELECT `+memorySelectCols+` FROM memories WHERE id = ?`, id)
	m, err := s.scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Memory{}, errNotFound("get_memory", "no memory with that id")
		}
		return Memory{}, errStorage("get_memory", err)
	}
	sectors, err := s.getSectors(id)
	if err != nil {
		return Memory{}, errStorage("get_memory", err)
	}
	m.Sectors = sectors
	return m, nil
}

func (s *Store) getSectors(memoryID string) ([]Sector, error) {
	rows, err := s.db.Query(`SELECT sector FROM memory_sectors WHERE memory_id = ?`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sector
	for rows.Next() {
		var sec string
		if err := rows.Scan(&sec); err != nil {
			return nil, err
		}
		out = append(out, Sector(sec))
	}
	return out, rows.Err()
}

// GetVector loads one (memory, sector) embedding, if present.
func (s *Store) GetVector(memoryID string, sector Sector) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM vectors WHERE memory_id = ? AND sector = ?`, memoryID, string(sector)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return DecodeVector(blob), true, nil
}

// ListByUser returns every non-tombstoned memory for a user, optionally
// filtered to a sector set, newest first.
func (s *Store) ListByUser(userID string, sectors []Sector, limit int) ([]Memory, error) {
	query := `SELECT ` + memorySelectCols + ` FROM memories WHERE user_id = ? AND tombstoned = 0`
	args := []any{userID}
	if len(sectors) > 0 {
		ph := make([]string, len(sectors))
		for i, sec := range sectors {
			ph[i] = "?"
			args = append(args, string(sec))
		}
		query += ` AND primary_sector IN (` + strings.Join(ph, ",") + `)`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AllActive returns every non-tombstoned memory across every user, used
// by the decay/reflection maintenance sweeps.
func (s *Store) AllActive() ([]Memory, error) {
	rows, err := s.db.Query(`SELECT ` + memorySelectCols + ` FROM memories WHERE tombstoned = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetActiveUserIDs returns all distinct user IDs with stored memories.
func (s *Store) GetActiveUserIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateSalience sets salience + last_seen_at + updated_at, bumping
// version for optimistic-conflict detection.
func (s *Store) UpdateSalience(memoryID string, salience float64, lastSeen time.Time) error {
	res, err := s.db.Exec(`
		UPDATE memories SET salience = ?, last_seen_at = ?, updated_at = ?, version = version + 1
		WHERE id = ?`,
		salience, formatTime(lastSeen), formatTime(lastSeen), memoryID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errNotFound("update_salience", "no memory with that id")
	}
	return nil
}

// UpdateMemorySector overwrites the primary sector, used by the optional
// async LLM reclassification hook.
func (s *Store) UpdateMemorySector(memoryID string, sector Sector) error {
	_, err := s.db.Exec(`UPDATE memories SET primary_sector = ?, updated_at = datetime('now') WHERE id = ?`, string(sector), memoryID)
	return err
}

// SetMetadata overwrites a memory's metadata blob.
func (s *Store) SetMetadata(memoryID string, meta Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE memories SET metadata = ?, updated_at = datetime('now') WHERE id = ?`, string(b), memoryID)
	return err
}

// Tombstone marks a memory as decayed-out without deleting it, preserving
// it through the grace period.
func (s *Store) Tombstone(memoryID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE memories SET tombstoned = 1, tombstoned_at = ? WHERE id = ?`, formatTime(at), memoryID)
	return err
}

// Purge permanently deletes tombstoned memories whose grace period has
// elapsed, cascading to vectors/sectors/edges.
func (s *Store) Purge(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM memories WHERE tombstoned = 1 AND tombstoned_at != '' AND tombstoned_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateDecay applies a new salience value during a decay sweep without
// touching last_seen_at (decay is not an access event).
func (s *Store) UpdateDecay(memoryID string, salience float64) error {
	_, err := s.db.Exec(`UPDATE memories SET salience = ? WHERE id = ?`, salience, memoryID)
	return err
}

// --- edges ---

// UpsertEdge inserts a directed edge, or replaces the weight and
// last_updated of the existing edge with the same (src, dst, relation).
func (s *Store) UpsertEdge(e Edge) error {
	_, err := s.db.Exec(`
		INSERT INTO edges (src_id, dst_id, relation, weight, last_updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id, relation) DO UPDATE SET weight = excluded.weight, last_updated = excluded.last_updated`,
		e.SrcID, e.DstID, e.Relation, e.Weight, formatTime(e.LastUpdated),
	)
	return err
}

// OutgoingEdges returns every edge leaving memoryID, implementing
// EdgeLookup for Propagate.
func (s *Store) OutgoingEdges(memoryID string) ([]Edge, error) {
	rows, err := s.db.Query(`SELECT src_id, dst_id, relation, weight, last_updated FROM edges WHERE src_id = ?`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		var lu string
		if err := rows.Scan(&e.SrcID, &e.DstID, &e.Relation, &e.Weight, &lu); err != nil {
			return nil, err
		}
		e.LastUpdated = parseTime(lu)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllEdges returns every edge. The decay sweep's fade pass does not use it;
// it runs through DecayEdges.
func (s *Store) AllEdges() ([]Edge, error) {
	rows, err := s.db.Query(`SELECT src_id, dst_id, relation, weight, last_updated FROM edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		var lu string
		if err := rows.Scan(&e.SrcID, &e.DstID, &e.Relation, &e.Weight, &lu); err != nil {
			return nil, err
		}
		e.LastUpdated = parseTime(lu)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DecayEdges applies the maintenance-pass fade and prunes weights below the
// floor.
func (s *Store) DecayEdges(floor float64) (int, error) {
	if _, err := s.db.Exec(`UPDATE edges SET weight = weight * 0.995`); err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`DELETE FROM edges WHERE weight < ?`, floor)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- stats ---

// LogStat appends a maintenance/telemetry row.
func (s *Store) LogStat(statType string, count int64, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO stats (type, count, ts) VALUES (?, ?, ?)`, statType, count, formatTime(at))
	return err
}

// --- users ---

// UpsertUser ensures a user row exists.
func (s *Store) UpsertUser(userID string, at time.Time) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`, userID, formatTime(at))
	return err
}

// SetUserSummary overwrites a user's derived summary.
func (s *Store) SetUserSummary(userID, summary string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE users SET summary = ?, summary_updated_at = ? WHERE id = ?`, summary, formatTime(at), userID)
	return err
}
