package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingDimension is fixed by the embedding model (text-embedding-3-small).
const EmbeddingDimension = 1536

// DocumentChunk is one retrievable text window of a document. Chunk indices
// are dense per document (0..chunk_count-1) and chunks are immutable after
// creation; corrections require re-ingesting the parent document.
type DocumentChunk struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID       `gorm:"type:uuid;not null;index" json:"document_id"`
	ChunkIndex int             `gorm:"not null" json:"chunk_index"`
	Content    string          `gorm:"type:text;not null" json:"content"`
	TokenCount int             `gorm:"not null" json:"token_count"`
	Embedding  pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	Metadata   string          `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (c *DocumentChunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// SetMetadata stores free-form position metadata as JSON.
func (c *DocumentChunk) SetMetadata(m map[string]any) {
	if len(m) == 0 {
		c.Metadata = ""
		return
	}
	b, _ := json.Marshal(m)
	c.Metadata = string(b)
}
