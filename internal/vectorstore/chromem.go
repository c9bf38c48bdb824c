package vectorstore

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"gwi.com/recall-chat/internal/logger"
)

const chromemCollection = "chat_memory"

// ChromemStore wraps chromem-go, a pure Go embedded vector database. With a path the
// collection is persisted to disk, otherwise it lives in memory.
type ChromemStore struct {
	db   *chromem.DB
	col  *chromem.Collection
	dims int
	log  *logger.Logger
}

func NewChromemStore(log *logger.Logger, path string, dims int) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(path) != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemStore{
		db:   db,
		col:  col,
		dims: dims,
		log:  log.With("service", "ChromemVectorStore", "persistent", path != ""),
	}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, rec Record) error {
	if err := checkDims("upsert", rec.ID, rec.Values, s.dims); err != nil {
		return err
	}
	// Copy: chromem normalises embeddings in place.
	values := append([]float32(nil), rec.Values...)
	doc := chromem.Document{
		ID:        rec.ID,
		Metadata:  rec.Metadata.toMap(),
		Embedding: values,
		Content:   rec.Metadata.Text,
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if err := checkDims("query", "", vector, s.dims); err != nil {
		return nil, err
	}

	limit := topK
	if count := s.col.Count(); count < limit {
		limit = count
	}
	if limit <= 0 {
		return []Match{}, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	// chromem rejects nResults larger than the number of (filtered) documents,
	// so shrink the request until it fits.
	var results []chromem.Result
	for current := limit; current >= 1; current-- {
		var err error
		results, err = s.col.QueryEmbedding(ctx, vector, current, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if current == 1 {
				return []Match{}, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		out = append(out, Match{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Metadata: metadataFromMap(r.Metadata),
		})
	}
	return out, nil
}

func (s *ChromemStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

func (s *ChromemStore) DeleteByMetadata(ctx context.Context, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	if err := filter.validate(); err != nil {
		return 0, err
	}
	before := s.col.Count()
	if before == 0 {
		return 0, nil
	}
	if err := s.col.Delete(ctx, map[string]string(filter), nil); err != nil {
		return 0, fmt.Errorf("chromem delete: %w", err)
	}
	return before - s.col.Count(), nil
}

// Close is a no-op; persistent chromem writes through on every change.
func (s *ChromemStore) Close() error {
	return nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
