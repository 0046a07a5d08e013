package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"founderos-knowledge/internal/app"
	"founderos-knowledge/internal/transport/http/middleware"
	"founderos-knowledge/internal/transport/http/response"
)

type DocumentHandler struct {
	documentService *app.DocumentService
}

func NewDocumentHandler(documentService *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload accepts a multipart form with a single "file" field.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "could not read uploaded file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "could not read uploaded file")
		return
	}

	doc, err := h.documentService.Upload(c.Request.Context(), app.UploadInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Filename:    fileHeader.Filename,
		Data:        data,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrEmptyFile):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUnsupportedFile):
			response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFile, err.Error())
		case errors.Is(err, app.ErrFileTooLarge):
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload failed")
		}
		return
	}

	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    doc,
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.documentService.List(workspaceID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	documentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Get(workspaceID, documentID)
	if err != nil {
		documentError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

// Status returns the processing state only, for cheap client polling.
func (h *DocumentHandler) Status(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	documentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Get(workspaceID, documentID)
	if err != nil {
		documentError(c, err, "get document status failed")
		return
	}

	payload := gin.H{
		"id":     doc.ID,
		"status": doc.Status,
	}
	if doc.ChunkCount != nil {
		payload["chunk_count"] = *doc.ChunkCount
	}
	if doc.ErrorMessage != nil {
		payload["error_message"] = *doc.ErrorMessage
	}
	response.OK(c, payload)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	documentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.documentService.Delete(c.Request.Context(), workspaceID, documentID); err != nil {
		documentError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": documentID})
}

func (h *DocumentHandler) Retry(c *gin.Context) {
	_, workspaceID, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	documentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Retry(c.Request.Context(), workspaceID, documentID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotRetry):
			response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
		case errors.Is(err, app.ErrIngestUnavailable):
			response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
		default:
			documentError(c, err, "retry document failed")
		}
		return
	}

	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    doc,
	})
}

func documentError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
