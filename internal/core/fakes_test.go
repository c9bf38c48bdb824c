package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
	"gwi.com/recall-chat/internal/vectorstore"
)

const testDims = 4

var errBoom = errors.New("boom")

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// faultyConversation wraps the real SQLite store and fails selected calls.
type faultyConversation struct {
	*store.SQLiteStore
	log *callLog

	mu            sync.Mutex
	createErr     func(msg *store.Message) error
	recentErr     error
	getChatErr    error
	deleteMsgsErr error
	deleteChatErr error
}

func (f *faultyConversation) CreateMessage(ctx context.Context, msg *store.Message) error {
	f.mu.Lock()
	fail := f.createErr
	f.mu.Unlock()
	if fail != nil {
		if err := fail(msg); err != nil {
			return err
		}
	}
	return f.SQLiteStore.CreateMessage(ctx, msg)
}

func (f *faultyConversation) GetRecentMessages(ctx context.Context, chatID string, n int) ([]store.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.SQLiteStore.GetRecentMessages(ctx, chatID, n)
}

func (f *faultyConversation) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	if f.getChatErr != nil {
		return nil, f.getChatErr
	}
	return f.SQLiteStore.GetChat(ctx, chatID)
}

func (f *faultyConversation) DeleteMessagesByChatID(ctx context.Context, chatID string) (int64, error) {
	f.log.add("messages.delete")
	if f.deleteMsgsErr != nil {
		return 0, f.deleteMsgsErr
	}
	return f.SQLiteStore.DeleteMessagesByChatID(ctx, chatID)
}

func (f *faultyConversation) DeleteChat(ctx context.Context, chatID string) error {
	f.log.add("chat.delete")
	if f.deleteChatErr != nil {
		return f.deleteChatErr
	}
	return f.SQLiteStore.DeleteChat(ctx, chatID)
}

// faultyVectors wraps a real vector store and fails selected calls.
type faultyVectors struct {
	vectorstore.Store
	log *callLog

	upsertErr     func(rec vectorstore.Record) error
	queryErr      error
	deleteMetaErr error
}

func (f *faultyVectors) Upsert(ctx context.Context, rec vectorstore.Record) error {
	if f.upsertErr != nil {
		if err := f.upsertErr(rec); err != nil {
			return err
		}
	}
	return f.Store.Upsert(ctx, rec)
}

func (f *faultyVectors) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.Query(ctx, vector, topK, filter)
}

func (f *faultyVectors) DeleteByMetadata(ctx context.Context, filter vectorstore.Filter) (int, error) {
	f.log.add("vectors.delete")
	if f.deleteMetaErr != nil {
		return 0, f.deleteMetaErr
	}
	return f.Store.DeleteByMetadata(ctx, filter)
}

// fakeEmbedder derives a small deterministic vector from the text.
type fakeEmbedder struct {
	mu    sync.Mutex
	units []Unit
	dims  int
	fail  func(Unit) error
}

func (e *fakeEmbedder) Embed(_ context.Context, u Unit) ([]float32, error) {
	e.mu.Lock()
	e.units = append(e.units, u)
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		if err := fail(u); err != nil {
			return nil, err
		}
	}
	dims := e.dims
	if dims == 0 {
		dims = testDims
	}
	vec := make([]float32, dims)
	vec[0] = 1
	for i, r := range u.Text {
		vec[i%dims] += float32(r%7) / 7
	}
	return vec, nil
}

func (e *fakeEmbedder) calls() []Unit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Unit(nil), e.units...)
}

type fakeGenerator struct {
	mu     sync.Mutex
	reply  string
	err    error
	inputs [][]Unit
}

func (g *fakeGenerator) Generate(_ context.Context, units []Unit) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = append(g.inputs, append([]Unit(nil), units...))
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) last() []Unit {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.inputs) == 0 {
		return nil
	}
	return g.inputs[len(g.inputs)-1]
}

type testEnv struct {
	db       *store.SQLiteStore
	conv     *faultyConversation
	vectors  *faultyVectors
	embedder *fakeEmbedder
	gen      *fakeGenerator
	orch     *Orchestrator
	calls    *callLog
	user     *store.User
	chat     *store.Chat
}

func newTestEnv(t *testing.T, cfg OrchestratorConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	vs, err := vectorstore.NewSQLiteStore(logger.Nop(), db.DB(), testDims)
	if err != nil {
		t.Fatalf("vectorstore.NewSQLiteStore: %v", err)
	}

	calls := &callLog{}
	env := &testEnv{
		db:       db,
		conv:     &faultyConversation{SQLiteStore: db, log: calls},
		vectors:  &faultyVectors{Store: vs, log: calls},
		embedder: &fakeEmbedder{},
		gen:      &fakeGenerator{reply: "general kenobi"},
		calls:    calls,
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = testDims
	}
	env.orch = NewOrchestrator(logger.Nop(), env.conv, env.vectors, env.embedder, env.gen, cfg)
	env.user = env.createUser(t, "obi@example.com")
	env.chat, err = db.CreateChat(ctx, env.user.ID, "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	return env
}

func (e *testEnv) createUser(t *testing.T, email string) *store.User {
	t.Helper()
	u := &store.User{Email: email, FirstName: "Obi", LastName: "Wan", PasswordHash: "x"}
	if err := e.db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (e *testEnv) messages(t *testing.T, chatID string) []store.Message {
	t.Helper()
	msgs, err := e.db.GetMessagesByChatID(context.Background(), chatID, 1000, 0)
	if err != nil {
		t.Fatalf("GetMessagesByChatID: %v", err)
	}
	return msgs
}

func (e *testEnv) records(t *testing.T, chatID string) map[string]vectorstore.Match {
	t.Helper()
	matches, err := e.vectors.Store.Query(context.Background(), make([]float32, testDims), vectorstore.MaxQueryResults, vectorstore.ChatFilter(chatID))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	out := make(map[string]vectorstore.Match, len(matches))
	for _, m := range matches {
		out[m.ID] = m
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
