package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
)

const (
	maxListedMessages = 1000
	maxTitleLength    = 120
	titleTimeout      = 30 * time.Second
)

// ChatStore is everything the chat service needs from the conversation store.
type ChatStore interface {
	ConversationStore
	CreateChat(ctx context.Context, userID string, title string) (*store.Chat, error)
	GetChatsByUserID(ctx context.Context, userID string) ([]store.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID string, title string) error
	TouchChat(ctx context.Context, chatID string, at time.Time) error
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

type ChatService struct {
	log          *logger.Logger
	dbStore      ChatStore
	orchestrator *Orchestrator
	titles       TitleGenerator
	now          func() time.Time
}

// NewChatService wires the chat surface. titles may be nil, in which case chats keep
// whatever title they were created with.
func NewChatService(log *logger.Logger, db ChatStore, orchestrator *Orchestrator, titles TitleGenerator) *ChatService {
	return &ChatService{
		log:          log.With("service", "chat"),
		dbStore:      db,
		orchestrator: orchestrator,
		titles:       titles,
		now:          time.Now,
	}
}

func (s *ChatService) CreateChat(ctx context.Context, userID string, title string) (*store.Chat, error) {
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title longer than %d characters", ErrInvalidInput, maxTitleLength)
	}
	chat, err := s.dbStore.CreateChat(ctx, userID, title)
	if err != nil {
		return nil, fmt.Errorf("%w: create chat: %v", ErrStoreUnavailable, err)
	}
	s.log.Info("Chat created", "chat_id", chat.ID, "user_id", userID)
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]store.Chat, error) {
	chats, err := s.dbStore.GetChatsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chats: %v", ErrStoreUnavailable, err)
	}
	return chats, nil
}

// ListMessages returns the chat's messages, newest first.
func (s *ChatService) ListMessages(ctx context.Context, userID string, chatID string) ([]store.Message, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.dbStore.GetRecentMessages(ctx, chatID, maxListedMessages)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// SubmitTurn checks that the caller owns the chat and runs one turn through the orchestrator.
func (s *ChatService) SubmitTurn(ctx context.Context, userID string, chatID string, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, stageErr(StageValidate, ErrInvalidInput, errors.New("message must not be empty"))
	}
	chat, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	result, err := s.orchestrator.ProcessTurn(ctx, TurnRequest{ChatID: chatID, UserID: userID, Text: text})
	if err != nil {
		return nil, err
	}

	if err := s.dbStore.TouchChat(ctx, chatID, s.now()); err != nil {
		s.log.Warn("Failed to update chat activity", "chat_id", chatID, "error", err)
	}
	if chat.Title == "" && s.titles != nil {
		go s.generateAndSaveChatTitle(chatID, strings.TrimSpace(text))
	}
	return result, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, userID string, chatID string) error {
	return s.orchestrator.DeleteChat(ctx, chatID, userID)
}

func (s *ChatService) ownedChat(ctx context.Context, userID string, chatID string) (*store.Chat, error) {
	if chatID == "" {
		return nil, stageErr(StageValidate, ErrInvalidInput, errors.New("chat id is required"))
	}
	chat, err := s.dbStore.GetChat(ctx, chatID)
	if err != nil {
		return nil, stageErr(StageLookupChat, ErrStoreUnavailable, err)
	}
	if chat == nil {
		return nil, stageErr(StageLookupChat, ErrNotFound, fmt.Errorf("chat %s", chatID))
	}
	if chat.UserID != userID {
		return nil, stageErr(StageLookupChat, ErrForbidden, fmt.Errorf("chat %s", chatID))
	}
	return chat, nil
}

func (s *ChatService) generateAndSaveChatTitle(chatID string, basis string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	log := s.log.With("chat_id", chatID)
	title, err := s.titles.GenerateTitle(ctx, basis)
	if err != nil {
		log.Warn("Failed to generate chat title", "error", err)
		return
	}
	title = cleanTitle(title)
	if r := []rune(title); len(r) > maxTitleLength {
		title = string(r[:maxTitleLength])
	}
	if title == "" {
		return
	}
	if err := s.dbStore.UpdateChatTitle(ctx, chatID, title); err != nil {
		log.Warn("Failed to save generated title", "title", title, "error", err)
		return
	}
	log.Info("Generated chat title", "title", title)
}
