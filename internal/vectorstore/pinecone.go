package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gwi.com/recall-chat/internal/logger"
)

// Pinecone caps delete requests at 1000 ids.
const pineconeDeleteBatch = 1000

type PineconeConfig struct {
	APIKey     string
	APIVersion string
	// IndexHost is the data plane host, e.g. "my-index-abc123.svc.pinecone.io".
	// A full URL is accepted too (useful for tests and local emulators).
	IndexHost string
	Namespace string
	Dims      int
	Timeout   time.Duration
}

// PineconeStore talks to the Pinecone data plane over REST. Pinecone serverless
// indexes cannot delete by metadata, so DeleteByMetadata goes through DeleteByQuery.
type PineconeStore struct {
	log     *logger.Logger
	cfg     PineconeConfig
	baseURL string
	http    *http.Client
}

func NewPineconeStore(log *logger.Logger, cfg PineconeConfig) (*PineconeStore, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.IndexHost), "/")
	if host == "" {
		return nil, fmt.Errorf("missing Pinecone index host")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-04"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PineconeStore{
		log:     log.With("service", "PineconeVectorStore", "namespace", cfg.Namespace),
		cfg:     cfg,
		baseURL: host,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeUpsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

type pineconeQueryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type pineconeQueryMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []pineconeQueryMatch `json:"matches"`
}

type pineconeDeleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace,omitempty"`
}

func (s *PineconeStore) Upsert(ctx context.Context, rec Record) error {
	if err := checkDims("upsert", rec.ID, rec.Values, s.cfg.Dims); err != nil {
		return err
	}
	md := map[string]any{}
	for k, v := range rec.Metadata.toMap() {
		md[k] = v
	}
	req := pineconeUpsertRequest{
		Namespace: s.cfg.Namespace,
		Vectors:   []pineconeVector{{ID: rec.ID, Values: rec.Values, Metadata: md}},
	}
	if _, err := doPinecone[pineconeUpsertResponse](ctx, s, "/vectors/upsert", req); err != nil {
		return fmt.Errorf("pinecone upsert: %w", err)
	}
	return nil
}

func (s *PineconeStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if err := checkDims("query", "", vector, s.cfg.Dims); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}
	if topK > MaxQueryResults {
		topK = MaxQueryResults
	}
	req := pineconeQueryRequest{
		Namespace:       s.cfg.Namespace,
		Vector:          vector,
		TopK:            topK,
		Filter:          pineconeFilter(filter),
		IncludeMetadata: true,
	}
	resp, err := doPinecone[pineconeQueryResponse](ctx, s, "/query", req)
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}
	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, Match{ID: m.ID, Score: m.Score, Metadata: pineconeMetadata(m.Metadata)})
	}
	return out, nil
}

func (s *PineconeStore) DeleteByIDs(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += pineconeDeleteBatch {
		end := start + pineconeDeleteBatch
		if end > len(ids) {
			end = len(ids)
		}
		req := pineconeDeleteRequest{IDs: ids[start:end], Namespace: s.cfg.Namespace}
		if _, err := doPinecone[map[string]any](ctx, s, "/vectors/delete", req); err != nil {
			return fmt.Errorf("pinecone delete: %w", err)
		}
	}
	return nil
}

func (s *PineconeStore) DeleteByMetadata(ctx context.Context, filter Filter) (int, error) {
	n, err := DeleteByQuery(ctx, s, s.cfg.Dims, filter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("Deleted vectors by metadata", "count", n, "filter", map[string]string(filter))
	}
	return n, nil
}

func (s *PineconeStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func pineconeFilter(filter Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

func pineconeMetadata(md map[string]any) Metadata {
	str := func(k string) string {
		if v, ok := md[k].(string); ok {
			return v
		}
		return ""
	}
	return Metadata{ChatID: str(KeyChat), UserID: str(KeyUser), Text: str(KeyText)}
}

func doPinecone[T any](ctx context.Context, s *PineconeStore, path string, body any) (*T, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", s.cfg.APIVersion)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pinecone http %d: %s", resp.StatusCode, string(raw))
	}

	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone decode error: %w", err)
	}
	return &out, nil
}
