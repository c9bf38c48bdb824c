package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"
	defaultTitleModelName     = "gemini-1.5-flash-latest"

	chatSystemInstruction = "You are a helpful assistant in an ongoing conversation. " +
		"Use the earlier messages you are given when they are relevant to the latest message. " +
		"Keep your answers concise."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

type LLMConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	TitleModel     string
}

// LLMService is the Gemini implementation of Embedder and Generator.
type LLMService struct {
	client         *genai.Client
	log            *logger.Logger
	chatModel      string
	embeddingModel string
	titleModel     string
}

func NewLLMService(ctx context.Context, log *logger.Logger, cfg LLMConfig) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &LLMService{
		client:         client,
		log:            log.With("service", "llm"),
		chatModel:      orDefault(cfg.ChatModel, defaultChatModelName),
		embeddingModel: orDefault(cfg.EmbeddingModel, defaultEmbeddingModelName),
		titleModel:     orDefault(cfg.TitleModel, defaultTitleModelName),
	}, nil
}

func (s *LLMService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.log.Warn("Error closing GenAI client", "error", err)
		return
	}
	s.log.Info("GenAI client closed")
}

// Embed returns the embedding of unit.Text. The role does not change the vector.
func (s *LLMService) Embed(ctx context.Context, unit Unit) ([]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(unit.Text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Generate sends units as a chat: everything but the last unit becomes history and
// the last one is the message being answered.
func (s *LLMService) Generate(ctx context.Context, units []Unit) (string, error) {
	if len(units) == 0 {
		return "", errors.New("no input units for generation")
	}

	model := s.client.GenerativeModel(s.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	contents := toContents(units)
	chatSession := model.StartChat()
	chatSession.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errEmptyModelOutput
	}
	return text, nil
}

func (s *LLMService) GenerateTitle(ctx context.Context, basis string) (string, error) {
	model := s.client.GenerativeModel(s.titleModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}
	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}
	title := cleanTitle(responseText(resp))
	if title == "" {
		return "", errors.New("LLM generated an empty title string")
	}
	return title, nil
}

// toContents maps units onto genai contents. Gemini expects turns to alternate, so
// adjacent units with the same role are merged into one content.
func toContents(units []Unit) []*genai.Content {
	contents := make([]*genai.Content, 0, len(units))
	for _, u := range units {
		role := u.Role
		if role != store.RoleModel {
			role = store.RoleUser
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(u.Text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(u.Text)}})
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func cleanTitle(title string) string {
	return strings.Trim(title, "\"'\n\r\t .")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
