package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"founderos-knowledge/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(conversation *model.Conversation) error {
	if err := r.db.Create(conversation).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) ListByWorkspace(workspaceID uuid.UUID) ([]model.Conversation, error) {
	var list []model.Conversation
	if err := r.db.Where("workspace_id = ?", workspaceID).Order("updated_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	return list, nil
}

func (r *ConversationRepository) GetByIDAndWorkspace(id, workspaceID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.Where("id = ? AND workspace_id = ?", id, workspaceID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query conversation failed: %w", err)
	}
	return &conv, nil
}

// Delete removes the conversation and cascades to its messages.
func (r *ConversationRepository) Delete(id, workspaceID uuid.UUID) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND workspace_id = ?", id, workspaceID).Delete(&model.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete conversation failed: %w", err)
	}
	return nil
}

// Touch bumps updated_at so conversation listings sort by recency.
func (r *ConversationRepository) Touch(id uuid.UUID) error {
	if err := r.db.Model(&model.Conversation{}).Where("id = ?", id).Update("updated_at", time.Now()).Error; err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

// SetTitle renames a conversation; used to derive the title from the first
// user message.
func (r *ConversationRepository) SetTitle(id uuid.UUID, title string) error {
	if err := r.db.Model(&model.Conversation{}).Where("id = ?", id).Update("title", title).Error; err != nil {
		return fmt.Errorf("set conversation title failed: %w", err)
	}
	return nil
}
