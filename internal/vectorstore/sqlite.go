package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gwi.com/recall-chat/internal/logger"
)

// SQLiteStore keeps records in a table next to the conversation data and ranks them in
// process. It suits single-node deployments with modest history sizes.
type SQLiteStore struct {
	db   *sql.DB
	dims int
	log  *logger.Logger
}

var sqliteFilterColumns = map[string]string{
	KeyChat: "chat_id",
	KeyUser: "user_id",
}

func NewSQLiteStore(log *logger.Logger, db *sql.DB, dims int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle required")
	}
	s := &SQLiteStore{db: db, dims: dims, log: log.With("service", "SQLiteVectorStore")}
	schema := `
    CREATE TABLE IF NOT EXISTS vector_records (
        id TEXT PRIMARY KEY, -- message id
        chat_id TEXT NOT NULL,
        user_id TEXT NOT NULL,
        text TEXT NOT NULL,
        embedding_json TEXT NOT NULL, -- JSON array of float32
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_vector_records_chat ON vector_records (chat_id);
    CREATE INDEX IF NOT EXISTS idx_vector_records_user ON vector_records (user_id);
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	if err := checkDims("upsert", rec.ID, rec.Values, s.dims); err != nil {
		return err
	}
	embeddingBytes, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO vector_records (id, chat_id, user_id, text, embedding_json, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            chat_id = excluded.chat_id,
            user_id = excluded.user_id,
            text = excluded.text,
            embedding_json = excluded.embedding_json,
            updated_at = excluded.updated_at`,
		rec.ID, rec.Metadata.ChatID, rec.Metadata.UserID, rec.Metadata.Text, string(embeddingBytes), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert vector record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if err := checkDims("query", "", vector, s.dims); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	where, args := sqliteWhere(filter)
	rows, err := s.db.QueryContext(ctx, "SELECT id, chat_id, user_id, text, embedding_json FROM vector_records"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector records: %w", err)
	}
	defer rows.Close()

	scored := make([]Match, 0)
	for rows.Next() {
		var (
			m             Match
			embeddingJSON string
			embedding     []float32
		)
		if err := rows.Scan(&m.ID, &m.Metadata.ChatID, &m.Metadata.UserID, &m.Metadata.Text, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan vector record: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			s.log.Warn("Skipping vector record with unreadable embedding", "record_id", m.ID, "error", err)
			continue
		}
		similarity, err := CosineSimilarity(vector, embedding)
		if err != nil {
			s.log.Warn("Skipping vector record", "record_id", m.ID, "error", err)
			continue
		}
		m.Score = similarity
		scored = append(scored, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vector records: %w", err)
	}

	// Stable so that equal scores (e.g. the zero vector) keep table order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vector_records WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("failed to delete vector records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByMetadata(ctx context.Context, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	if err := filter.validate(); err != nil {
		return 0, err
	}
	where, args := sqliteWhere(filter)
	res, err := s.db.ExecContext(ctx, "DELETE FROM vector_records"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vector records: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Close is a no-op: the handle belongs to the conversation store.
func (s *SQLiteStore) Close() error {
	return nil
}

func sqliteWhere(filter Filter) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, sqliteFilterColumns[k]+" = ?")
		args = append(args, filter[k])
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
