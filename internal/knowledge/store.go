package knowledge

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Store is the interface to the knowledge-base vector index. The default
// implementation uses SQLite with brute-force cosine similarity; an
// ANN-capable backend can replace it behind this interface.
type Store interface {
	// Search performs vector similarity search, returning the top-K most
	// similar entries. Results are sorted by descending score.
	Search(vector []float32, filters Filters, limit int) ([]SearchResult, error)

	// Scroll returns up to limit entries with full payload. Used to build
	// the keyword vocabulary and the knowledge-base summary.
	Scroll(limit int) ([]Entry, error)

	// Insert adds entries to the index.
	Insert(entries []Entry) error

	// Delete removes an entry by ID.
	Delete(id string) error

	// Count returns the number of indexed entries.
	Count() (int, error)
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. Embeddings are stored as little-endian float32
// blobs. Search scans id + embedding first and fetches full payloads only
// for the top-K winners.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for knowledge-base operations.
// The knowledge_entries table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert adds entries to the knowledge_entries table.
func (s *SQLiteStore) Insert(entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO knowledge_entries (id, content, category, source, keywords, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		keywords, err := json.Marshal(e.Keywords)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshalling keywords for %s: %w", e.ID, err)
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		blob := encodeFloat32s(e.Embedding)
		if _, err := stmt.Exec(e.ID, e.Content, e.Category, e.Source, string(keywords), blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over all embeddings,
// returning the top-K most similar entries sorted by descending score.
func (s *SQLiteStore) Search(vector []float32, filters Filters, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	scanQuery := `SELECT id, embedding FROM knowledge_entries`
	where, args := filterClause(filters)
	rows, err := s.db.Query(scanQuery+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosineSimilarity(vector, buf, queryNorm)
		if h.Len() < limit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full payloads only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, content, category, source, keywords, embedding, created_at
		FROM knowledge_entries WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K entries: %w", err)
	}
	defer fullRows.Close()

	var results []SearchResult
	for fullRows.Next() {
		e, err := scanEntry(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Entry: e, Score: scores[e.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full entries: %w", err)
	}

	// Sort by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// Scroll returns up to limit entries in insertion order with full payload.
func (s *SQLiteStore) Scroll(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, content, category, source, keywords, embedding, created_at
		FROM knowledge_entries ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("scrolling entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes an entry by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM knowledge_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %s not found", id)
	}
	return nil
}

// Count returns the number of entries in the knowledge base.
func (s *SQLiteStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM knowledge_entries").Scan(&count)
	return count, err
}

func filterClause(filters Filters) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filters.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filters.Category)
	}
	if filters.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filters.Source)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var keywords string
	var blob []byte
	var createdAt string
	if err := rows.Scan(&e.ID, &e.Content, &e.Category, &e.Source, &keywords, &blob, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning entry: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
		return Entry{}, fmt.Errorf("decoding keywords for %s: %w", e.ID, err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Entry{}, fmt.Errorf("decoding embedding for %s: %w", e.ID, err)
	}
	e.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at for %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	return e, nil
}

// sortByScore sorts SearchResults by Score descending. Used for small slices.
func sortByScore(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosineSimilarity computes dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosineSimilarity(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score. Used during the scan
// phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
