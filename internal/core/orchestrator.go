package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gwi.com/recall-chat/internal/config"
	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
	"gwi.com/recall-chat/internal/vectorstore"
)

const (
	DefaultTopK         = 3
	DefaultHistoryLimit = 10
)

type Embedder interface {
	Embed(ctx context.Context, unit Unit) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, units []Unit) (string, error)
}

// ConversationStore is the part of the message store the orchestrator drives.
type ConversationStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetRecentMessages(ctx context.Context, chatID string, n int) ([]store.Message, error)
	GetChat(ctx context.Context, chatID string) (*store.Chat, error)
	DeleteMessagesByChatID(ctx context.Context, chatID string) (int64, error)
	DeleteChat(ctx context.Context, chatID string) error
}

type OrchestratorConfig struct {
	TopK         int
	HistoryLimit int
	// Dimensions is the expected embedding length. Zero disables the check.
	Dimensions int
	// Scope selects the recall filter: config.MemoryScopeUser, MemoryScopeChat or MemoryScopeGlobal.
	Scope string
}

type TurnRequest struct {
	ChatID string
	UserID string
	Text   string
}

type TurnResult struct {
	ChatID         string
	Content        string
	UserMessageID  string
	ModelMessageID string
}

// Orchestrator runs the turn protocol and the cascading chat delete over the
// conversation store, the vector memory and the two model providers.
type Orchestrator struct {
	log       *logger.Logger
	messages  ConversationStore
	vectors   vectorstore.Store
	embedder  Embedder
	generator Generator
	cfg       OrchestratorConfig
}

func NewOrchestrator(log *logger.Logger, messages ConversationStore, vectors vectorstore.Store, embedder Embedder, generator Generator, cfg OrchestratorConfig) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Scope == "" {
		cfg.Scope = config.MemoryScopeUser
	}
	return &Orchestrator{
		log:       log.With("service", "orchestrator"),
		messages:  messages,
		vectors:   vectors,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
	}
}

// ProcessTurn takes one user message through ingest, recall, generation and commit.
// On failure the returned error is a *StageError; writes made by earlier stages are kept.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if req.ChatID == "" {
		return nil, stageErr(StageValidate, ErrInvalidInput, errors.New("chat id is required"))
	}
	if text == "" {
		return nil, stageErr(StageValidate, ErrInvalidInput, errors.New("message must not be empty"))
	}
	log := o.log.With("chat_id", req.ChatID, "user_id", req.UserID)

	// Ingest: persist the user message while embedding it.
	userMsg := &store.Message{ChatID: req.ChatID, UserID: req.UserID, Role: store.RoleUser, Content: text}
	var userVec []float32
	err := bracket(ctx,
		func(ctx context.Context) error {
			if err := o.messages.CreateMessage(ctx, userMsg); err != nil {
				return stageErr(StageIngest, ErrStoreUnavailable, err)
			}
			log.Debug("Stored user message", "message_id", userMsg.ID)
			return nil
		},
		func(ctx context.Context) error {
			vec, err := o.embed(ctx, Unit{Role: store.RoleUser, Text: text})
			if err != nil {
				return stageErr(StageIngest, ErrEmbeddingFailed, err)
			}
			userVec = vec
			return nil
		},
	)
	if err != nil {
		return nil, o.fail(log, err)
	}

	if err := o.vectors.Upsert(ctx, o.record(userMsg, userVec)); err != nil {
		log.Warn("User message stored but not indexed", "message_id", userMsg.ID)
		return nil, o.fail(log, stageErr(StageIndexUser, ErrStoreUnavailable, err))
	}

	// Recall: long-term matches and short-term history.
	var (
		matches []vectorstore.Match
		history []store.Message
	)
	err = bracket(ctx,
		func(ctx context.Context) error {
			m, err := o.vectors.Query(ctx, userVec, o.cfg.TopK, o.recallFilter(req))
			if err != nil {
				return stageErr(StageRecall, ErrStoreUnavailable, fmt.Errorf("query vector memory: %w", err))
			}
			matches = m
			return nil
		},
		func(ctx context.Context) error {
			h, err := o.messages.GetRecentMessages(ctx, req.ChatID, o.cfg.HistoryLimit)
			if err != nil {
				return stageErr(StageRecall, ErrStoreUnavailable, fmt.Errorf("load history: %w", err))
			}
			history = chronological(h)
			return nil
		},
	)
	if err != nil {
		return nil, o.fail(log, err)
	}
	log.Debug("Recalled memory", "matches", len(matches), "history", len(history))

	reply, err := o.generator.Generate(ctx, BuildContext(matches, history))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyModelOutput
	}
	if err != nil {
		return nil, o.fail(log, stageErr(StageGenerate, ErrGenerationFailed, err))
	}

	// Commit: persist the reply while embedding it.
	modelMsg := &store.Message{ChatID: req.ChatID, UserID: req.UserID, Role: store.RoleModel, Content: reply}
	var modelVec []float32
	err = bracket(ctx,
		func(ctx context.Context) error {
			if err := o.messages.CreateMessage(ctx, modelMsg); err != nil {
				return stageErr(StageCommit, ErrStoreUnavailable, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			vec, err := o.embed(ctx, Unit{Role: store.RoleModel, Text: reply})
			if err != nil {
				return stageErr(StageCommit, ErrEmbeddingFailed, err)
			}
			modelVec = vec
			return nil
		},
	)
	if err != nil {
		return nil, o.fail(log, err)
	}

	if err := o.vectors.Upsert(ctx, o.record(modelMsg, modelVec)); err != nil {
		log.Warn("Model message stored but not indexed", "message_id", modelMsg.ID)
		return nil, o.fail(log, stageErr(StageIndexModel, ErrStoreUnavailable, err))
	}

	log.Info("Turn completed", "user_message_id", userMsg.ID, "model_message_id", modelMsg.ID)
	return &TurnResult{
		ChatID:         req.ChatID,
		Content:        reply,
		UserMessageID:  userMsg.ID,
		ModelMessageID: modelMsg.ID,
	}, nil
}

// DeleteChat removes a chat with its messages and vector records, in that order.
// The first failing step aborts the rest; nothing is rolled back.
func (o *Orchestrator) DeleteChat(ctx context.Context, chatID string, userID string) error {
	log := o.log.With("chat_id", chatID, "user_id", userID)

	chat, err := o.messages.GetChat(ctx, chatID)
	if err != nil {
		return o.fail(log, stageErr(StageLookupChat, ErrStoreUnavailable, err))
	}
	if chat == nil {
		return stageErr(StageLookupChat, ErrNotFound, fmt.Errorf("chat %s", chatID))
	}
	if chat.UserID != userID {
		log.Warn("Rejected delete of chat owned by another user")
		return stageErr(StageLookupChat, ErrForbidden, fmt.Errorf("chat %s", chatID))
	}

	deletedMessages, err := o.messages.DeleteMessagesByChatID(ctx, chatID)
	if err != nil {
		return o.fail(log, stageErr(StageDeleteMessages, ErrStoreUnavailable, err))
	}
	deletedVectors, err := o.vectors.DeleteByMetadata(ctx, vectorstore.ChatFilter(chatID))
	if err != nil {
		return o.fail(log, stageErr(StageDeleteVectors, ErrStoreUnavailable, err))
	}
	if err := o.messages.DeleteChat(ctx, chatID); err != nil {
		return o.fail(log, stageErr(StageDeleteChat, ErrStoreUnavailable, err))
	}

	log.Info("Chat deleted", "messages", deletedMessages, "vectors", deletedVectors)
	return nil
}

func (o *Orchestrator) embed(ctx context.Context, unit Unit) ([]float32, error) {
	vec, err := o.embedder.Embed(ctx, unit)
	if err != nil {
		return nil, err
	}
	if o.cfg.Dimensions > 0 && len(vec) != o.cfg.Dimensions {
		return nil, fmt.Errorf("%w: expected=%d got=%d", errDimensionMismatch, o.cfg.Dimensions, len(vec))
	}
	return vec, nil
}

func (o *Orchestrator) record(msg *store.Message, vec []float32) vectorstore.Record {
	return vectorstore.Record{
		ID:     msg.ID,
		Values: vec,
		Metadata: vectorstore.Metadata{
			ChatID: msg.ChatID,
			UserID: msg.UserID,
			Text:   msg.Content,
		},
	}
}

func (o *Orchestrator) recallFilter(req TurnRequest) vectorstore.Filter {
	switch o.cfg.Scope {
	case config.MemoryScopeChat:
		return vectorstore.ChatFilter(req.ChatID)
	case config.MemoryScopeGlobal:
		return nil
	default:
		return vectorstore.UserFilter(req.UserID)
	}
}

func (o *Orchestrator) fail(log *logger.Logger, err error) error {
	log.Error("Memory pipeline stage failed", "stage", StageOf(err), "error", err)
	return err
}
