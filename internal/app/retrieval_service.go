package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"founderos-knowledge/internal/repository"
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetrievalService answers "which stored chunks are most similar to this
// query" within one workspace. Only chunks of ready documents are
// searched; a partly ingested document contributes nothing.
type RetrievalService struct {
	chunkRepo *repository.ChunkRepository
	embedder  QueryEmbedder
	topK      int
}

func NewRetrievalService(chunkRepo *repository.ChunkRepository, embedder QueryEmbedder, topK int) *RetrievalService {
	if topK <= 0 {
		topK = 5
	}
	return &RetrievalService{
		chunkRepo: chunkRepo,
		embedder:  embedder,
		topK:      topK,
	}
}

// Search embeds the query and returns up to topK similar chunks, best
// first. An empty workspace yields an empty slice, not an error.
func (s *RetrievalService) Search(ctx context.Context, workspaceID uuid.UUID, query string) ([]repository.SimilarChunk, error) {
	if workspaceID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	return s.chunkRepo.SearchSimilar(workspaceID, embedding, s.topK)
}
