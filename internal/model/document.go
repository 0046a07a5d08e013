package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document processing statuses. A document starts in StatusQueued and is
// mutated only by the ingest pipeline until it reaches a terminal state.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document is one uploaded source file in a workspace's knowledge base.
// status=ready implies every chunk has an embedding; status=failed implies
// ErrorMessage is set and no chunks exist for the document.
type Document struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID   uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	UploadedBy    uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by"`
	Title         string    `gorm:"size:255;not null" json:"title"`
	StoragePath   string    `gorm:"type:text;not null" json:"-"`
	FileSizeBytes int64     `gorm:"not null" json:"file_size_bytes"`
	FileType      string    `gorm:"size:10;not null" json:"file_type"`
	ChunkCount    *int      `json:"chunk_count"`
	Status        string    `gorm:"size:20;not null;default:queued;index" json:"status"`
	ErrorMessage  *string   `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Terminal reports whether the document's status can no longer transition.
func (d *Document) Terminal() bool {
	return d.Status == StatusReady || d.Status == StatusFailed
}
