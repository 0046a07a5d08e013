package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"founderos-knowledge/internal/ai"
	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/repository"
)

const (
	historyLimit   = 10
	titleMaxLength = 50
	snippetLength  = 200
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEmpty         = errors.New("message content is empty")
)

// EventType tags the frames of a chat reply stream.
type EventType string

const (
	EventSources EventType = "sources"
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// ChatEvent is one frame of a reply stream. Exactly one of the payload
// fields is meaningful per type: Sources for sources, Content for content,
// MessageID for done, Error for error.
type ChatEvent struct {
	Type      EventType        `json:"type"`
	Sources   []model.Citation `json:"sources,omitempty"`
	Content   string           `json:"content,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type Generator interface {
	Stream(ctx context.Context, messages []ai.ChatMessage, onDelta func(string) error) (string, error)
}

type Retriever interface {
	Search(ctx context.Context, workspaceID uuid.UUID, query string) ([]repository.SimilarChunk, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID uuid.UUID) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID uuid.UUID, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID uuid.UUID) error
	MarkDirty(ctx context.Context, conversationID uuid.UUID) error
	IsDirty(ctx context.Context, conversationID uuid.UUID) (bool, error)
}

// ChatService orchestrates a grounded reply: retrieve similar chunks,
// announce them as sources, stream the model's answer, and persist the
// assistant message with its citation snapshot only once the stream
// finished cleanly.
type ChatService struct {
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	retriever        Retriever
	generator        Generator
	historyCache     HistoryCache
}

func NewChatService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	retriever Retriever,
	generator Generator,
	historyCache HistoryCache,
) *ChatService {
	return &ChatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		retriever:        retriever,
		generator:        generator,
		historyCache:     historyCache,
	}
}

type CreateConversationInput struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Title       string
}

func (s *ChatService) CreateConversation(input CreateConversationInput) (*model.Conversation, error) {
	if input.WorkspaceID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Conversation"
	}

	conversation := &model.Conversation{
		WorkspaceID: input.WorkspaceID,
		CreatedBy:   input.UserID,
		Title:       title,
	}
	if err := s.conversationRepo.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) ListConversations(workspaceID uuid.UUID) ([]model.Conversation, error) {
	if workspaceID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	return s.conversationRepo.ListByWorkspace(workspaceID)
}

func (s *ChatService) DeleteConversation(workspaceID, conversationID uuid.UUID) error {
	if workspaceID == uuid.Nil || conversationID == uuid.Nil {
		return ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndWorkspace(conversationID, workspaceID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrConversationNotFound
	}
	if err := s.conversationRepo.Delete(conversationID, workspaceID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), conversationID)
	}
	return nil
}

func (s *ChatService) GetHistory(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]model.Message, error) {
	if workspaceID == uuid.Nil || conversationID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndWorkspace(conversationID, workspaceID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, conversationID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conversationID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messageRepo.ListByConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, conversationID)
		_ = s.historyCache.SetHistory(ctx, conversationID, messages)
	}
	return messages, nil
}

type StreamReplyInput struct {
	WorkspaceID    uuid.UUID
	UserID         uuid.UUID
	ConversationID uuid.UUID
	Content        string
}

// StreamReply runs one chat turn, pushing frames through emit in order:
// one sources frame (possibly with an empty list), zero or more content
// frames, then exactly one done or error frame. The user message is
// persisted before generation; the assistant message only after a clean
// finish. A cancelled ctx abandons the turn without a terminal frame.
func (s *ChatService) StreamReply(ctx context.Context, input StreamReplyInput, emit func(ChatEvent) error) error {
	if input.WorkspaceID == uuid.Nil || input.UserID == uuid.Nil || input.ConversationID == uuid.Nil {
		return ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return ErrMessageEmpty
	}

	conversation, err := s.conversationRepo.GetByIDAndWorkspace(input.ConversationID, input.WorkspaceID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrConversationNotFound
	}

	history, err := s.messageRepo.ListRecentByConversationID(input.ConversationID, historyLimit)
	if err != nil {
		return s.fail(ctx, emit, "loading conversation history failed", err)
	}

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, input.ConversationID)
		_ = s.historyCache.DeleteHistory(ctx, input.ConversationID)
	}

	userMessage := &model.Message{
		ConversationID: input.ConversationID,
		Role:           model.RoleUser,
		Content:        content,
	}
	if err := s.messageRepo.Create(userMessage); err != nil {
		return s.fail(ctx, emit, "saving your message failed", err)
	}
	if len(history) == 0 {
		_ = s.conversationRepo.SetTitle(input.ConversationID, deriveTitle(content))
	}
	_ = s.conversationRepo.Touch(input.ConversationID)

	chunks, err := s.retriever.Search(ctx, input.WorkspaceID, content)
	if err != nil {
		return s.fail(ctx, emit, "searching your documents failed", err)
	}

	citations := buildCitations(chunks)
	if err := emit(ChatEvent{Type: EventSources, Sources: citations}); err != nil {
		return err
	}

	prompt := buildPrompt(chunks, history, content)
	full, err := s.generator.Stream(ctx, prompt, func(delta string) error {
		return emit(ChatEvent{Type: EventContent, Content: delta})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, emit, "the model could not complete a reply", err)
	}

	assistantMessage := &model.Message{
		ConversationID: input.ConversationID,
		Role:           model.RoleAssistant,
		Content:        strings.TrimSpace(full),
		Sources:        citations,
	}
	if err := s.messageRepo.Create(assistantMessage); err != nil {
		return s.fail(ctx, emit, "saving the reply failed", err)
	}
	_ = s.conversationRepo.Touch(input.ConversationID)

	return emit(ChatEvent{Type: EventDone, MessageID: assistantMessage.ID.String()})
}

// fail emits the terminal error frame and returns the underlying error
// for the caller's log. The frame carries the user-facing message only.
func (s *ChatService) fail(ctx context.Context, emit func(ChatEvent) error, message string, err error) error {
	if ctx.Err() == nil {
		_ = emit(ChatEvent{Type: EventError, Error: message})
	}
	return err
}

func buildCitations(chunks []repository.SimilarChunk) []model.Citation {
	citations := make([]model.Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = model.Citation{
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			ChunkID:       c.ChunkID,
			Snippet:       snippet(c.Content),
		}
	}
	return citations
}

func snippet(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= snippetLength {
		return string(runes)
	}
	return string(runes[:snippetLength]) + "…"
}

func deriveTitle(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= titleMaxLength {
		return string(runes)
	}
	return string(runes[:titleMaxLength]) + "…"
}

// buildPrompt assembles the grounded system prompt plus recent history.
// With no retrieved chunks the prompt forbids answering from model
// memory, so the reply honestly says the documents do not cover it.
func buildPrompt(chunks []repository.SimilarChunk, history []model.Message, currentUserInput string) []ai.ChatMessage {
	var system strings.Builder
	if len(chunks) == 0 {
		system.WriteString("You are a knowledge base assistant for a team workspace. ")
		system.WriteString("No relevant documents were found for this question. ")
		system.WriteString("Tell the user that the workspace documents do not contain information to answer it, ")
		system.WriteString("and suggest uploading relevant documents. Do not answer from general knowledge.")
	} else {
		system.WriteString("You are a knowledge base assistant for a team workspace. ")
		system.WriteString("Answer the user's question using only the document excerpts below. ")
		system.WriteString("When you use an excerpt, mention its source as [Document: title]. ")
		system.WriteString("If the excerpts do not contain the answer, say so instead of guessing.\n\n")
		for _, c := range chunks {
			fmt.Fprintf(&system, "[Document: %s]\n%s\n\n", c.DocumentTitle, c.Content)
		}
	}

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: system.String()})
	for _, m := range history {
		role := m.Role
		if role == "" {
			role = model.RoleUser
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: strings.TrimSpace(currentUserInput)})
	return messages
}
