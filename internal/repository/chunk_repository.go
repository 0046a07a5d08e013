package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"founderos-knowledge/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func (r *ChunkRepository) ListByDocumentID(documentID uuid.UUID) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	if err := r.db.Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) CountByDocumentID(documentID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.Model(&model.DocumentChunk{}).Where("document_id = ?", documentID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks failed: %w", err)
	}
	return n, nil
}

// SimilarChunk is one ANN search hit joined with its document title.
type SimilarChunk struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	ChunkIndex    int       `json:"chunk_index"`
	Content       string    `json:"content"`
	TokenCount    int       `json:"token_count"`
	CreatedAt     time.Time `json:"created_at"`
	DocumentTitle string    `json:"document_title"`
	Similarity    float64   `json:"similarity"`
}

// SearchSimilar runs a cosine similarity search over chunk embeddings,
// restricted to ready documents in the workspace. Chunks of in-flight or
// failed documents are never retrievable. Ties break on chunk creation
// order to keep results deterministic.
func (r *ChunkRepository) SearchSimilar(workspaceID uuid.UUID, embedding []float32, limit int) ([]SimilarChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	var hits []SimilarChunk
	err := r.db.Raw(`
		SELECT
			dc.id AS chunk_id,
			dc.document_id,
			dc.chunk_index,
			dc.content,
			dc.token_count,
			dc.created_at,
			d.title AS document_title,
			1 - (dc.embedding <=> ?) AS similarity
		FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		WHERE d.workspace_id = ?
		  AND d.status = ?
		  AND dc.embedding IS NOT NULL
		ORDER BY dc.embedding <=> ?, dc.created_at ASC, dc.chunk_index ASC
		LIMIT ?`,
		vec, workspaceID, model.StatusReady, vec, limit,
	).Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return hits, nil
}
