package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"founderos-knowledge/internal/app"
	"founderos-knowledge/internal/transport/http/middleware"
	"founderos-knowledge/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateConversationRequest struct {
	Title string `json:"title" binding:"max=255"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	userID, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	conversation, err := h.chatService.CreateConversation(app.CreateConversationInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Title:       req.Title,
	})
	if err != nil {
		conversationError(c, err, "create conversation failed")
		return
	}
	response.OK(c, conversation)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversations, err := h.chatService.ListConversations(workspaceID)
	if err != nil {
		conversationError(c, err, "list conversations failed")
		return
	}
	response.OK(c, conversations)
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteConversation(workspaceID, conversationID); err != nil {
		conversationError(c, err, "delete conversation failed")
		return
	}
	response.OK(c, gin.H{"deleted_conversation_id": conversationID})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c)
	if !ok {
		return
	}

	messages, err := h.chatService.GetHistory(c.Request.Context(), workspaceID, conversationID)
	if err != nil {
		conversationError(c, err, "get messages failed")
		return
	}
	response.OK(c, messages)
}

// SendMessage streams the reply as server-sent events. Each frame is a
// "data:" line holding one JSON chat event; the stream always ends with a
// literal "data: [DONE]" sentinel, whether the turn succeeded or not.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	streamStarted := false
	err := h.chatService.StreamReply(c.Request.Context(), app.StreamReplyInput{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ConversationID: conversationID,
		Content:        req.Content,
	}, func(event app.ChatEvent) error {
		streamStarted = true
		payload, marshalErr := json.Marshal(event)
		if marshalErr != nil {
			return marshalErr
		}
		if _, writeErr := c.Writer.Write([]byte("data: " + string(payload) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Pre-stream validation failures still get a plain JSON error.
		if !streamStarted {
			switch {
			case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
				response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			case errors.Is(err, app.ErrConversationNotFound):
				response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
			default:
				response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
			}
			return
		}
		log.Printf("chat: stream reply for conversation %s failed: %v", conversationID, err)
	}

	if streamStarted && c.Request.Context().Err() == nil {
		if _, writeErr := c.Writer.Write([]byte("data: [DONE]\n\n")); writeErr == nil {
			flusher.Flush()
		}
	}
}

func conversationError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
