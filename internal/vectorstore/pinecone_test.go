package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gwi.com/recall-chat/internal/logger"
)

// fakePinecone is a minimal data plane: it ignores similarity and returns every vector
// matching the $eq filter, like a real index would for a zero query vector.
type fakePinecone struct {
	mu          sync.Mutex
	vectors     map[string]pineconeVector
	deleteCalls int
	lastQuery   pineconeQueryRequest
}

func (f *fakePinecone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("Api-Key") != "test-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case "/vectors/upsert":
		var req pineconeUpsertRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, v := range req.Vectors {
			f.vectors[v.ID] = v
		}
		_ = json.NewEncoder(w).Encode(pineconeUpsertResponse{UpsertedCount: int64(len(req.Vectors))})
	case "/query":
		var req pineconeQueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastQuery = req
		resp := pineconeQueryResponse{Matches: []pineconeQueryMatch{}}
		for id, v := range f.vectors {
			if !matchesFilter(v.Metadata, req.Filter) {
				continue
			}
			resp.Matches = append(resp.Matches, pineconeQueryMatch{ID: id, Metadata: v.Metadata})
			if len(resp.Matches) == req.TopK {
				break
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	case "/vectors/delete":
		var req pineconeDeleteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.deleteCalls++
		for _, id := range req.IDs {
			delete(f.vectors, id)
		}
		_, _ = w.Write([]byte("{}"))
	default:
		http.NotFound(w, r)
	}
}

func matchesFilter(md map[string]any, filter map[string]any) bool {
	for k, cond := range filter {
		eq, _ := cond.(map[string]any)["$eq"].(string)
		if md[k] != eq {
			return false
		}
	}
	return true
}

func newPineconeTestStore(t *testing.T) (*PineconeStore, *fakePinecone) {
	t.Helper()
	fake := &fakePinecone{vectors: map[string]pineconeVector{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewPineconeStore(logger.Nop(), PineconeConfig{APIKey: "test-key", IndexHost: srv.URL, Namespace: "chats", Dims: testDims})
	if err != nil {
		t.Fatalf("NewPineconeStore: %v", err)
	}
	return s, fake
}

func TestPineconeStore(t *testing.T) {
	ctx := context.Background()
	s, fake := newPineconeTestStore(t)
	seed(t, s)

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, UserFilter("u2"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "m4" || matches[0].Metadata.Text != "pizza toppings" {
		t.Fatalf("Query: unexpected matches: %+v", matches)
	}
	if !fake.lastQuery.IncludeMetadata || fake.lastQuery.Namespace != "chats" {
		t.Fatalf("Query: request missing metadata/namespace: %+v", fake.lastQuery)
	}

	n, err := s.DeleteByMetadata(ctx, ChatFilter("c1"))
	if err != nil {
		t.Fatalf("DeleteByMetadata: %v", err)
	}
	if n != 2 || fake.deleteCalls != 1 {
		t.Fatalf("DeleteByMetadata: n=%d deleteCalls=%d", n, fake.deleteCalls)
	}
	if fake.lastQuery.TopK != MaxQueryResults {
		t.Fatalf("DeleteByMetadata: expected topK %d, got %d", MaxQueryResults, fake.lastQuery.TopK)
	}
	for _, v := range fake.lastQuery.Vector {
		if v != 0 {
			t.Fatalf("DeleteByMetadata: expected zero query vector, got %v", fake.lastQuery.Vector)
		}
	}

	n, err = s.DeleteByMetadata(ctx, ChatFilter("c1"))
	if err != nil || n != 0 || fake.deleteCalls != 1 {
		t.Fatalf("DeleteByMetadata (empty): n=%d err=%v deleteCalls=%d", n, err, fake.deleteCalls)
	}
}

func TestPineconeDeleteBatches(t *testing.T) {
	s, fake := newPineconeTestStore(t)
	ids := make([]string, pineconeDeleteBatch+5)
	for i := range ids {
		ids[i] = "id"
	}
	if err := s.DeleteByIDs(context.Background(), ids); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if fake.deleteCalls != 2 {
		t.Fatalf("DeleteByIDs: expected 2 batches, got %d", fake.deleteCalls)
	}
}

func TestPineconeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	s, err := NewPineconeStore(logger.Nop(), PineconeConfig{APIKey: "k", IndexHost: srv.URL, Dims: testDims})
	if err != nil {
		t.Fatalf("NewPineconeStore: %v", err)
	}
	if err := s.Upsert(context.Background(), Record{ID: "a", Values: []float32{1, 0, 0, 0}}); err == nil {
		t.Fatalf("Upsert: expected error from 503")
	}
}
