package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"founderos-knowledge/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByIDAndWorkspace(id, workspaceID uuid.UUID) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND workspace_id = ?", id, workspaceID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByWorkspace(workspaceID uuid.UUID) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.Where("workspace_id = ?", workspaceID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// Delete removes the document and cascades to its chunks in one transaction.
// Deletion is allowed at any status, including mid-processing; in-flight
// pipeline runs tolerate the row disappearing.
func (r *DocumentRepository) Delete(id, workspaceID uuid.UUID) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND workspace_id = ?", id, workspaceID).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Not this workspace's document; leave its chunks alone.
			return nil
		}
		return tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

// ClaimForProcessing atomically transitions queued|failed → processing and
// clears stale failure state. Returns false when another pipeline run holds
// the document or it no longer exists, so concurrent triggers no-op.
func (r *DocumentRepository) ClaimForProcessing(id uuid.UUID) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, []string{model.StatusQueued, model.StatusFailed}).
		Updates(map[string]interface{}{
			"status":        model.StatusProcessing,
			"error_message": nil,
			"chunk_count":   nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim document for processing failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed records a terminal failure and removes any chunks so a failed
// document never exposes a partial chunk set.
func (r *DocumentRepository) MarkFailed(id uuid.UUID, reason string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Document{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(map[string]interface{}{
				"status":        model.StatusFailed,
				"error_message": reason,
				"chunk_count":   nil,
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("mark document failed failed: %w", err)
	}
	return nil
}

// CompleteIngestion persists all chunks and the ready transition in one
// atomic unit: readers never observe a document with a partial chunk set.
// Chunks must arrive in sequence-index order.
func (r *DocumentRepository) CompleteIngestion(id uuid.UUID, chunks []model.DocumentChunk) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := tx.Create(&chunks).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&model.Document{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(map[string]interface{}{
				"status":      model.StatusReady,
				"chunk_count": len(chunks),
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Document was deleted mid-processing; abort the write.
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete ingestion failed: %w", err)
	}
	return nil
}

// ListStaleProcessing returns documents stuck in processing longer than the
// staleness threshold, presumed abandoned by a crashed worker.
func (r *DocumentRepository) ListStaleProcessing(olderThan time.Duration) ([]model.Document, error) {
	cutoff := time.Now().Add(-olderThan)
	var list []model.Document
	if err := r.db.Where("status = ? AND updated_at < ?", model.StatusProcessing, cutoff).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list stale processing documents failed: %w", err)
	}
	return list, nil
}

// FailStale force-fails a stale processing document. The status guard keeps
// this from clobbering a run that finished between scan and update.
func (r *DocumentRepository) FailStale(id uuid.UUID, olderThan time.Duration, reason string) (bool, error) {
	cutoff := time.Now().Add(-olderThan)
	var claimed bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Document{}).
			Where("id = ? AND status = ? AND updated_at < ?", id, model.StatusProcessing, cutoff).
			Updates(map[string]interface{}{
				"status":        model.StatusFailed,
				"error_message": reason,
				"chunk_count":   nil,
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected > 0
		if !claimed {
			return nil
		}
		return tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("fail stale document failed: %w", err)
	}
	return claimed, nil
}
