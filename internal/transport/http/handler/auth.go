package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"founderos-knowledge/internal/app"
	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/transport/http/middleware"
	"founderos-knowledge/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email,max=128"`
	DisplayName string `json:"display_name" binding:"max=100"`
	Password    string `json:"password" binding:"required,min=8,max=128"`

	// Provide workspace_name to found a new workspace or invite_code to
	// join an existing one.
	WorkspaceName string `json:"workspace_name" binding:"max=255"`
	InviteCode    string `json:"invite_code" binding:"max=64"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Register(app.RegisterInput{
		Email:         req.Email,
		DisplayName:   req.DisplayName,
		Password:      req.Password,
		WorkspaceName: req.WorkspaceName,
		InviteCode:    req.InviteCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		case errors.Is(err, app.ErrInvalidInvite):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidInvite, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register failed")
		}
		return
	}

	payload := gin.H{
		"token": result.Token,
		"user":  userView(result.User),
	}
	if result.Workspace != nil {
		payload["workspace"] = gin.H{
			"id":          result.Workspace.ID,
			"name":        result.Workspace.Name,
			"invite_code": result.Workspace.InviteCode,
		}
	}
	response.OK(c, payload)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Login(app.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidCredential):
			response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "login failed")
		}
		return
	}

	response.OK(c, gin.H{
		"token": result.Token,
		"user":  userView(result.User),
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch current user failed")
		return
	}
	if user == nil {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
		return
	}

	response.OK(c, userView(user))
}

func userView(user *model.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"workspace_id": user.WorkspaceID,
	}
}
