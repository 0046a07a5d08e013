package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/pkg/jwtutil"
	"founderos-knowledge/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmailExists       = errors.New("email already registered")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrInvalidInvite     = errors.New("invalid invite code")
)

type AuthService struct {
	userRepo      *repository.UserRepository
	workspaceRepo *repository.WorkspaceRepository
	jwtSecret     string
	jwtExpiration time.Duration
}

type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string

	// Exactly one of WorkspaceName (create) or InviteCode (join) is used;
	// InviteCode wins when both are set.
	WorkspaceName string
	InviteCode    string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	Token     string
	User      *model.User
	Workspace *model.Workspace
}

func NewAuthService(userRepo *repository.UserRepository, workspaceRepo *repository.WorkspaceRepository, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		workspaceRepo: workspaceRepo,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Register(input RegisterInput) (*AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	displayName := strings.TrimSpace(input.DisplayName)
	password := strings.TrimSpace(input.Password)
	inviteCode := strings.TrimSpace(input.InviteCode)
	workspaceName := strings.TrimSpace(input.WorkspaceName)

	if email == "" || !strings.Contains(email, "@") || password == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}
	if displayName == "" {
		displayName = email
	}
	if inviteCode == "" && workspaceName == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	var workspace *model.Workspace
	if inviteCode != "" {
		workspace, err = s.workspaceRepo.GetByInviteCode(inviteCode)
		if err != nil {
			return nil, err
		}
		if workspace == nil {
			return nil, ErrInvalidInvite
		}
	} else {
		workspace = &model.Workspace{
			Name:       workspaceName,
			InviteCode: newInviteCode(),
		}
		if err := s.workspaceRepo.Create(workspace); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		WorkspaceID:  workspace.ID,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.WorkspaceID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user, Workspace: workspace}, nil
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.WorkspaceID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) GetUserByID(id uuid.UUID) (*model.User, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidInput
	}
	return s.userRepo.GetByID(id)
}

func newInviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
