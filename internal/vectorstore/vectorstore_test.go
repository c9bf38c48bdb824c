package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
)

const testDims = 4

func newSQLiteVectorStore(t *testing.T) Store {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteStore(logger.Nop(), db, testDims)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func newChromemVectorStore(t *testing.T) Store {
	t.Helper()
	s, err := NewChromemStore(logger.Nop(), "", testDims)
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	return s
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	records := []Record{
		{ID: "m1", Values: []float32{1, 0, 0, 0}, Metadata: Metadata{ChatID: "c1", UserID: "u1", Text: "pizza in naples"}},
		{ID: "m2", Values: []float32{0.9, 0.1, 0, 0}, Metadata: Metadata{ChatID: "c1", UserID: "u1", Text: "best pizza dough"}},
		{ID: "m3", Values: []float32{0, 1, 0, 0}, Metadata: Metadata{ChatID: "c2", UserID: "u1", Text: "golang channels"}},
		{ID: "m4", Values: []float32{0.8, 0.2, 0, 0}, Metadata: Metadata{ChatID: "c3", UserID: "u2", Text: "pizza toppings"}},
	}
	for _, r := range records {
		if err := s.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert %s: %v", r.ID, err)
		}
	}
}

func TestStoreBackends(t *testing.T) {
	backends := map[string]func(*testing.T) Store{
		"sqlite":  newSQLiteVectorStore,
		"chromem": newChromemVectorStore,
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := build(t)
			seed(t, s)

			matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 2, nil)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(matches) != 2 || matches[0].ID != "m1" || matches[1].ID != "m2" {
				t.Fatalf("Query: unexpected matches: %+v", matches)
			}
			if matches[0].Score < matches[1].Score {
				t.Fatalf("Query: matches not ordered by score: %+v", matches)
			}
			if matches[0].Metadata.Text != "pizza in naples" || matches[0].Metadata.ChatID != "c1" {
				t.Fatalf("Query: metadata not returned: %+v", matches[0].Metadata)
			}

			filtered, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, UserFilter("u2"))
			if err != nil {
				t.Fatalf("Query filtered: %v", err)
			}
			if len(filtered) != 1 || filtered[0].ID != "m4" {
				t.Fatalf("Query filtered: unexpected matches: %+v", filtered)
			}

			// Upsert with an existing id replaces the record.
			if err := s.Upsert(ctx, Record{ID: "m4", Values: []float32{0, 0, 1, 0}, Metadata: Metadata{ChatID: "c3", UserID: "u2", Text: "edited"}}); err != nil {
				t.Fatalf("Upsert replace: %v", err)
			}
			filtered, err = s.Query(ctx, []float32{0, 0, 1, 0}, 10, ChatFilter("c3"))
			if err != nil || len(filtered) != 1 || filtered[0].Metadata.Text != "edited" {
				t.Fatalf("Query after replace: matches=%+v err=%v", filtered, err)
			}

			n, err := s.DeleteByMetadata(ctx, ChatFilter("c1"))
			if err != nil {
				t.Fatalf("DeleteByMetadata: %v", err)
			}
			if n != 2 {
				t.Fatalf("DeleteByMetadata: expected 2 deleted, got %d", n)
			}
			left, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, ChatFilter("c1"))
			if err != nil || len(left) != 0 {
				t.Fatalf("Query deleted chat: matches=%+v err=%v", left, err)
			}

			n, err = s.DeleteByMetadata(ctx, ChatFilter("c1"))
			if err != nil || n != 0 {
				t.Fatalf("DeleteByMetadata (empty): n=%d err=%v", n, err)
			}

			if err := s.DeleteByIDs(ctx, []string{"m3"}); err != nil {
				t.Fatalf("DeleteByIDs: %v", err)
			}
			rest, err := s.Query(ctx, []float32{0, 1, 0, 0}, 10, nil)
			if err != nil || len(rest) != 1 || rest[0].ID != "m4" {
				t.Fatalf("Query after DeleteByIDs: matches=%+v err=%v", rest, err)
			}
		})
	}
}

func TestStoreRejectsWrongDimensions(t *testing.T) {
	for name, build := range map[string]func(*testing.T) Store{"sqlite": newSQLiteVectorStore, "chromem": newChromemVectorStore} {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			err := s.Upsert(context.Background(), Record{ID: "x", Values: []float32{1, 2}})
			if !errors.Is(err, ErrDimensionMismatch) {
				t.Fatalf("Upsert: expected ErrDimensionMismatch, got %v", err)
			}
			if _, err := s.DeleteByMetadata(context.Background(), Filter{}); !errors.Is(err, ErrEmptyFilter) {
				t.Fatalf("DeleteByMetadata: expected ErrEmptyFilter, got %v", err)
			}
		})
	}
}

type recordingQuerier struct {
	matches   []Match
	queried   []float32
	topK      int
	deleted   [][]string
	deleteErr error
}

func (q *recordingQuerier) Query(_ context.Context, vector []float32, topK int, _ Filter) ([]Match, error) {
	q.queried = vector
	q.topK = topK
	return q.matches, nil
}

func (q *recordingQuerier) DeleteByIDs(_ context.Context, ids []string) error {
	q.deleted = append(q.deleted, ids)
	return q.deleteErr
}

func TestDeleteByQuery(t *testing.T) {
	ctx := context.Background()

	q := &recordingQuerier{}
	n, err := DeleteByQuery(ctx, q, 3, ChatFilter("c1"))
	if err != nil || n != 0 {
		t.Fatalf("DeleteByQuery (no matches): n=%d err=%v", n, err)
	}
	if len(q.deleted) != 0 {
		t.Fatalf("DeleteByQuery: delete must be skipped when nothing matches")
	}
	if len(q.queried) != 3 || q.queried[0] != 0 || q.topK != MaxQueryResults {
		t.Fatalf("DeleteByQuery: expected zero vector with max cap, got %v topK=%d", q.queried, q.topK)
	}

	q = &recordingQuerier{matches: []Match{{ID: "a"}, {ID: "b"}}}
	n, err = DeleteByQuery(ctx, q, 3, ChatFilter("c1"))
	if err != nil || n != 2 {
		t.Fatalf("DeleteByQuery: n=%d err=%v", n, err)
	}
	if len(q.deleted) != 1 || len(q.deleted[0]) != 2 {
		t.Fatalf("DeleteByQuery: unexpected delete calls %v", q.deleted)
	}

	q = &recordingQuerier{matches: []Match{{ID: "a"}}, deleteErr: errors.New("boom")}
	if _, err := DeleteByQuery(ctx, q, 3, ChatFilter("c1")); err == nil {
		t.Fatalf("DeleteByQuery: expected delete error to surface")
	}

	if _, err := DeleteByQuery(ctx, q, 3, nil); !errors.Is(err, ErrEmptyFilter) {
		t.Fatalf("DeleteByQuery: expected ErrEmptyFilter, got %v", err)
	}
}

// pagedQuerier holds more records than a single query can return.
type pagedQuerier struct {
	ids     []string
	stale   bool
	queries int
}

func (q *pagedQuerier) Query(_ context.Context, _ []float32, topK int, _ Filter) ([]Match, error) {
	q.queries++
	page := q.ids
	if len(page) > topK {
		page = page[:topK]
	}
	out := make([]Match, len(page))
	for i, id := range page {
		out[i] = Match{ID: id}
	}
	return out, nil
}

func (q *pagedQuerier) DeleteByIDs(_ context.Context, ids []string) error {
	if q.stale {
		return nil
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	kept := q.ids[:0]
	for _, id := range q.ids {
		if !gone[id] {
			kept = append(kept, id)
		}
	}
	q.ids = kept
	return nil
}

func TestDeleteByQueryDrainsFullPages(t *testing.T) {
	ids := make([]string, 2*MaxQueryResults+5)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i)
	}

	q := &pagedQuerier{ids: append([]string(nil), ids...)}
	n, err := DeleteByQuery(context.Background(), q, 3, ChatFilter("c1"))
	if err != nil {
		t.Fatalf("DeleteByQuery: %v", err)
	}
	if n != len(ids) || len(q.ids) != 0 {
		t.Fatalf("expected %d deleted and none left, got n=%d left=%d", len(ids), n, len(q.ids))
	}
	if q.queries != 3 {
		t.Fatalf("expected 3 scans, got %d", q.queries)
	}

	// An index that still returns deleted ids must not loop forever.
	q = &pagedQuerier{ids: ids[:MaxQueryResults], stale: true}
	n, err = DeleteByQuery(context.Background(), q, 3, ChatFilter("c1"))
	if err != nil || n != MaxQueryResults {
		t.Fatalf("stale index: n=%d err=%v", n, err)
	}
	if q.queries != 2 {
		t.Fatalf("stale index: expected 2 scans, got %d", q.queries)
	}
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	if err != nil || sim < 0.999 {
		t.Fatalf("identical vectors: sim=%f err=%v", sim, err)
	}
	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	if err != nil || sim != 0 {
		t.Fatalf("zero vector: sim=%f err=%v", sim, err)
	}
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("mismatch: expected ErrDimensionMismatch, got %v", err)
	}
}
