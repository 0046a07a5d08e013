package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"founderos-knowledge/internal/model"
)

type WorkspaceRepository struct {
	db *gorm.DB
}

func NewWorkspaceRepository(db *gorm.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) Create(workspace *model.Workspace) error {
	if err := r.db.Create(workspace).Error; err != nil {
		return fmt.Errorf("create workspace failed: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) GetByID(id uuid.UUID) (*model.Workspace, error) {
	var ws model.Workspace
	if err := r.db.Where("id = ?", id).First(&ws).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query workspace by id failed: %w", err)
	}
	return &ws, nil
}

func (r *WorkspaceRepository) GetByInviteCode(code string) (*model.Workspace, error) {
	var ws model.Workspace
	if err := r.db.Where("invite_code = ?", code).First(&ws).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query workspace by invite code failed: %w", err)
	}
	return &ws, nil
}
