// Package vectorstore holds the long-term memory index: vectors keyed by message id,
// carrying {chat, user, text} metadata, searchable by similarity with equality filters.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// Metadata keys shared by every backend.
const (
	KeyChat = "chat"
	KeyUser = "user"
	KeyText = "text"
)

// MaxQueryResults caps a single query; it is also the cap used when a query is only
// a vehicle for a metadata filter.
const MaxQueryResults = 10000

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyFilter       = errors.New("metadata filter must not be empty")
)

type Metadata struct {
	ChatID string
	UserID string
	Text   string
}

func (m Metadata) toMap() map[string]string {
	return map[string]string{KeyChat: m.ChatID, KeyUser: m.UserID, KeyText: m.Text}
}

func metadataFromMap(m map[string]string) Metadata {
	return Metadata{ChatID: m[KeyChat], UserID: m[KeyUser], Text: m[KeyText]}
}

type Record struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Filter restricts a query to records whose metadata equals every given value.
// Only KeyChat and KeyUser are filterable.
type Filter map[string]string

func ChatFilter(chatID string) Filter { return Filter{KeyChat: chatID} }
func UserFilter(userID string) Filter { return Filter{KeyUser: userID} }

func (f Filter) validate() error {
	for k := range f {
		if k != KeyChat && k != KeyUser {
			return fmt.Errorf("unsupported filter key %q", k)
		}
	}
	return nil
}

type Store interface {
	Upsert(ctx context.Context, rec Record) error
	// Query returns at most topK matches ordered by similarity, highest first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	// DeleteByMetadata removes every record matching filter and reports how many went.
	DeleteByMetadata(ctx context.Context, filter Filter) (int, error)
	Close() error
}

type querier interface {
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// DeleteByQuery implements filter deletes for indexes that can only delete by id:
// a neutral zero vector with the maximum result cap turns the similarity query into a
// pure metadata scan, and the returned ids are deleted in bulk. Full pages are followed
// by another scan until the filter matches nothing new. No matches is not an error.
func DeleteByQuery(ctx context.Context, s querier, dims int, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	deleted := make(map[string]struct{})
	for {
		matches, err := s.Query(ctx, make([]float32, dims), MaxQueryResults, filter)
		if err != nil {
			return len(deleted), fmt.Errorf("query records for delete: %w", err)
		}
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			if m.ID == "" {
				continue
			}
			if _, seen := deleted[m.ID]; seen {
				continue
			}
			ids = append(ids, m.ID)
		}
		if len(ids) == 0 {
			return len(deleted), nil
		}
		if err := s.DeleteByIDs(ctx, ids); err != nil {
			return len(deleted), fmt.Errorf("delete %d records: %w", len(ids), err)
		}
		for _, id := range ids {
			deleted[id] = struct{}{}
		}
		// A short page already held every match.
		if len(matches) < MaxQueryResults {
			return len(deleted), nil
		}
	}
}

func checkDims(op string, id string, values []float32, dims int) error {
	if len(values) == 0 {
		return fmt.Errorf("%s %q: empty vector", op, id)
	}
	if dims > 0 && len(values) != dims {
		return fmt.Errorf("%s %q: %w: expected=%d got=%d", op, id, ErrDimensionMismatch, dims, len(values))
	}
	return nil
}
