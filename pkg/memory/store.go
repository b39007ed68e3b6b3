package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"time"

	"patentflow/pkg/embed"
	"patentflow/pkg/logx"
)

// Store is the tiered knowledge store. It is safe for concurrent use; the
// underlying SQLite handle serializes access.
type Store struct {
	db       *sql.DB
	embedder embed.Embedder
	logger   *logx.Logger
}

// NewStore creates a knowledge store over an opened database.
func NewStore(db *sql.DB, embedder embed.Embedder) *Store {
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logx.NewLogger("knowledge-store"),
	}
}

// Add embeds and stores text in a tier, returning the new record ID.
// Failures are reported as *StorageError; the caller decides whether the
// write was load-bearing.
func (s *Store) Add(ctx context.Context, tier Tier, text string, metadata map[string]string) (string, error) {
	return s.AddWithID(ctx, NewRecordID(), tier, text, metadata)
}

// AddWithID stores text under a caller-chosen ID, replacing any existing
// record with that ID. Agent findings use deterministic IDs so a retried
// analysis overwrites its previous result (last-write-wins).
func (s *Store) AddWithID(ctx context.Context, id string, tier Tier, text string, metadata map[string]string) (string, error) {
	if !tier.Valid() {
		return "", &StorageError{Op: "add", Tier: tier, Err: errInvalidTier(tier)}
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", &StorageError{Op: "add", Tier: tier, Err: err}
	}

	metaJSON, err := json.Marshal(orEmpty(metadata))
	if err != nil {
		return "", &StorageError{Op: "add", Tier: tier, Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO knowledge_records (id, tier, content, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(tier), text, string(metaJSON), encodeVector(vec), time.Now().UTC())
	if err != nil {
		return "", &StorageError{Op: "add", Tier: tier, Err: err}
	}

	logx.Debug(ctx, "memory", "stored record %s in tier %s (%d chars)", id, tier, len(text))
	return id, nil
}

// Query returns up to limit records from a tier ranked by similarity to
// text, most similar first. Filters are exact-match constraints on record
// metadata. Query never fails: storage errors and empty tiers both yield an
// empty slice, so a degraded store degrades analysis quality rather than
// aborting the run.
func (s *Store) Query(ctx context.Context, text string, tier Tier, limit int, filters map[string]string) []QueryResult {
	if !tier.Valid() || limit <= 0 {
		return []QueryResult{}
	}

	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed for tier %s, returning empty: %v", tier, err)
		return []QueryResult{}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tier, content, metadata, embedding, created_at
		 FROM knowledge_records WHERE tier = ?`, string(tier))
	if err != nil {
		s.logger.Warn("query on tier %s failed, returning empty: %v", tier, err)
		return []QueryResult{}
	}
	defer func() { _ = rows.Close() }()

	var results []QueryResult
	for rows.Next() {
		var rec KnowledgeRecord
		var tierStr, metaJSON string
		var blob []byte
		if err := rows.Scan(&rec.ID, &tierStr, &rec.Content, &metaJSON, &blob, &rec.CreatedAt); err != nil {
			s.logger.Warn("row scan failed on tier %s, skipping: %v", tier, err)
			continue
		}
		rec.Tier = Tier(tierStr)

		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			rec.Metadata = map[string]string{}
		}

		if !matchesFilters(rec.Metadata, filters) {
			continue
		}

		rec.Embedding = decodeVector(blob)
		results = append(results, QueryResult{
			Record: rec,
			Score:  embed.CosineSimilarity(queryVec, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("row iteration failed on tier %s, returning partial results: %v", tier, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []QueryResult{}
	}
	return results
}

// Get fetches a single record by ID. Missing records return (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*KnowledgeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tier, content, metadata, embedding, created_at
		 FROM knowledge_records WHERE id = ?`, id)

	var rec KnowledgeRecord
	var tierStr, metaJSON string
	var blob []byte
	err := row.Scan(&rec.ID, &tierStr, &rec.Content, &metaJSON, &blob, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}

	rec.Tier = Tier(tierStr)
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		rec.Metadata = map[string]string{}
	}
	rec.Embedding = decodeVector(blob)
	return &rec, nil
}

// CountTier returns the number of records in a tier, for diagnostics.
func (s *Store) CountTier(ctx context.Context, tier Tier) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_records WHERE tier = ?`, string(tier)).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Tier: tier, Err: err}
	}
	return n, nil
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// encodeVector packs a float32 slice as little-endian bytes for BLOB storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

type errInvalidTier Tier

func (e errInvalidTier) Error() string { return "invalid tier: " + string(e) }
