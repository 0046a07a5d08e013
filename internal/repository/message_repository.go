package repository

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"founderos-knowledge/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListByConversationID returns messages in creation order.
func (r *MessageRepository) ListByConversationID(conversationID uuid.UUID) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentByConversationID returns the last limit messages in creation order.
func (r *MessageRepository) ListRecentByConversationID(conversationID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var recent []model.Message
	if err := r.db.Where("conversation_id = ?", conversationID).Order("created_at DESC").Limit(limit).Find(&recent).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

func (r *MessageRepository) CountByConversationID(conversationID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.Model(&model.Message{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return n, nil
}
