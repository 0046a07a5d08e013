package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"founderos-knowledge/internal/ai"
	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/repository"
)

type fakeRetriever struct {
	chunks []repository.SimilarChunk
	err    error
}

func (f *fakeRetriever) Search(ctx context.Context, workspaceID uuid.UUID, query string) ([]repository.SimilarChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

// fakeGenerator replays deltas and captures the prompt it was given.
type fakeGenerator struct {
	deltas []string
	err    error
	prompt []ai.ChatMessage
}

func (f *fakeGenerator) Stream(ctx context.Context, messages []ai.ChatMessage, onDelta func(string) error) (string, error) {
	f.prompt = messages
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return "", err
		}
		full.WriteString(d)
	}
	return full.String(), nil
}

type chatFixture struct {
	svc       *ChatService
	convRepo  *repository.ConversationRepository
	msgRepo   *repository.MessageRepository
	retriever *fakeRetriever
	generator *fakeGenerator
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := newTestDB(t)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{deltas: []string{"Hello ", "world"}}
	return &chatFixture{
		svc:       NewChatService(convRepo, msgRepo, retriever, generator, nil),
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		retriever: retriever,
		generator: generator,
	}
}

func (f *chatFixture) createConversation(t *testing.T, workspaceID, userID uuid.UUID) *model.Conversation {
	t.Helper()
	conv, err := f.svc.CreateConversation(CreateConversationInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
	})
	require.NoError(t, err)
	return conv
}

func collectEvents(events *[]ChatEvent) func(ChatEvent) error {
	return func(e ChatEvent) error {
		*events = append(*events, e)
		return nil
	}
}

func TestCreateConversationDefaultsTitle(t *testing.T) {
	f := newChatFixture(t)
	conv := f.createConversation(t, uuid.New(), uuid.New())
	assert.Equal(t, "New Conversation", conv.Title)

	named, err := f.svc.CreateConversation(CreateConversationInput{
		WorkspaceID: conv.WorkspaceID,
		UserID:      conv.CreatedBy,
		Title:       "  Q3 planning  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Q3 planning", named.Title)
}

func TestStreamReplyEmitsFramesInOrder(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	chunkID := uuid.New()
	documentID := uuid.New()
	f.retriever.chunks = []repository.SimilarChunk{{
		ChunkID:       chunkID,
		DocumentID:    documentID,
		DocumentTitle: "roadmap.md",
		Content:       "Q3 focuses on retention.",
	}}

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "What is the Q3 focus?",
	}, collectEvents(&events))
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, EventSources, events[0].Type)
	require.Len(t, events[0].Sources, 1)
	assert.Equal(t, documentID, events[0].Sources[0].DocumentID)
	assert.Equal(t, chunkID, events[0].Sources[0].ChunkID)
	assert.Equal(t, "roadmap.md", events[0].Sources[0].DocumentTitle)
	assert.Equal(t, "Q3 focuses on retention.", events[0].Sources[0].Snippet)

	assert.Equal(t, EventContent, events[1].Type)
	assert.Equal(t, "Hello ", events[1].Content)
	assert.Equal(t, EventContent, events[2].Type)
	assert.Equal(t, "world", events[2].Content)

	assert.Equal(t, EventDone, events[3].Type)
	assert.NotEmpty(t, events[3].MessageID)

	messages, err := f.msgRepo.ListByConversationID(conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "What is the Q3 focus?", messages[0].Content)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello world", messages[1].Content)
	require.Len(t, messages[1].Sources, 1)
	assert.Equal(t, documentID, messages[1].Sources[0].DocumentID)
	assert.Equal(t, messages[1].ID.String(), events[3].MessageID)

	// The first turn renames the conversation after the question.
	updated, err := f.convRepo.GetByIDAndWorkspace(conv.ID, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, "What is the Q3 focus?", updated.Title)
}

func TestStreamReplyGroundsPromptInChunks(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	f.retriever.chunks = []repository.SimilarChunk{{
		ChunkID:       uuid.New(),
		DocumentID:    uuid.New(),
		DocumentTitle: "handbook.md",
		Content:       "Refunds take five days.",
	}}

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "How long do refunds take?",
	}, collectEvents(&events))
	require.NoError(t, err)

	prompt := f.generator.prompt
	require.NotEmpty(t, prompt)
	assert.Equal(t, "system", prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "[Document: handbook.md]")
	assert.Contains(t, prompt[0].Content, "Refunds take five days.")
	assert.Equal(t, "user", prompt[len(prompt)-1].Role)
	assert.Equal(t, "How long do refunds take?", prompt[len(prompt)-1].Content)
}

func TestStreamReplyWithNoChunksForbidsGeneralKnowledge(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "Anything about pricing?",
	}, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, EventSources, events[0].Type)
	assert.Empty(t, events[0].Sources)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	require.NotEmpty(t, f.generator.prompt)
	assert.Contains(t, f.generator.prompt[0].Content, "Do not answer from general knowledge")
}

func TestStreamReplyIncludesRecentHistory(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	require.NoError(t, f.msgRepo.Create(&model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        "earlier question",
	}))
	require.NoError(t, f.msgRepo.Create(&model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        "earlier answer",
	}))

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "follow-up",
	}, collectEvents(&events))
	require.NoError(t, err)

	prompt := f.generator.prompt
	require.Len(t, prompt, 4)
	assert.Equal(t, model.RoleUser, prompt[1].Role)
	assert.Equal(t, "earlier question", prompt[1].Content)
	assert.Equal(t, model.RoleAssistant, prompt[2].Role)
	assert.Equal(t, "earlier answer", prompt[2].Content)

	// A non-empty history means the title stays as it was.
	conv2, err := f.convRepo.GetByIDAndWorkspace(conv.ID, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, "New Conversation", conv2.Title)
}

func TestStreamReplyLongFirstMessageTruncatesTitle(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	long := strings.Repeat("q", 80)
	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        long,
	}, collectEvents(&events))
	require.NoError(t, err)

	updated, err := f.convRepo.GetByIDAndWorkspace(conv.ID, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("q", 50)+"…", updated.Title)
}

func TestStreamReplyValidation(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "   ",
	}, collectEvents(&events))
	assert.ErrorIs(t, err, ErrMessageEmpty)
	assert.Empty(t, events)

	err = f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: uuid.New(),
		Content:        "hello",
	}, collectEvents(&events))
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Empty(t, events)
}

func TestStreamReplyGeneratorFailureEmitsErrorFrame(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)
	f.generator.err = errors.New("upstream 500")

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "hello",
	}, collectEvents(&events))
	require.Error(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "the model could not complete a reply", last.Error)

	// The user message survives; no assistant message is saved.
	messages, listErr := f.msgRepo.ListByConversationID(conv.ID)
	require.NoError(t, listErr)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestStreamReplyRetrieverFailureEmitsErrorFrame(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)
	f.retriever.err = errors.New("vector search down")

	var events []ChatEvent
	err := f.svc.StreamReply(context.Background(), StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "hello",
	}, collectEvents(&events))
	require.Error(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}

func TestStreamReplyCancelledContextStaysSilent(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	ctx, cancel := context.WithCancel(context.Background())
	f.generator.err = context.Canceled

	var events []ChatEvent
	emit := func(e ChatEvent) error {
		events = append(events, e)
		if e.Type == EventSources {
			cancel()
		}
		return nil
	}
	err := f.svc.StreamReply(ctx, StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conv.ID,
		Content:        "hello",
	}, emit)
	assert.ErrorIs(t, err, context.Canceled)
	for _, e := range events {
		assert.NotEqual(t, EventError, e.Type)
		assert.NotEqual(t, EventDone, e.Type)
	}

	messages, listErr := f.msgRepo.ListByConversationID(conv.ID)
	require.NoError(t, listErr)
	require.Len(t, messages, 1)
}

func TestDeleteConversation(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	err := f.svc.DeleteConversation(uuid.New(), conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	require.NoError(t, f.svc.DeleteConversation(workspaceID, conv.ID))
	_, err = f.svc.GetHistory(context.Background(), workspaceID, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestGetHistoryReturnsMessages(t *testing.T) {
	f := newChatFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()
	conv := f.createConversation(t, workspaceID, userID)

	require.NoError(t, f.msgRepo.Create(&model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        "hello",
	}))

	history, err := f.svc.GetHistory(context.Background(), workspaceID, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}
