package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"founderos-knowledge/internal/chunker"
	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/objstore"
	"founderos-knowledge/internal/parser"
	"founderos-knowledge/internal/repository"
)

// Embedder is the slice of the embedding client the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type PipelineConfig struct {
	ChunkTargetTokens  int
	ChunkOverlapTokens int
	EmbeddingBatchSize int
	DocumentTimeout    time.Duration
}

// Pipeline runs one document through fetch → parse → chunk → embed →
// persist. Steps are strictly sequential; the whole run is bounded by
// DocumentTimeout. Entry is exclusive per document: the queued|failed →
// processing transition is a compare-and-swap in the store, and every exit
// path (error, timeout, panic) leaves the document in a terminal state.
type Pipeline struct {
	docRepo *repository.DocumentRepository
	store   objstore.Store
	embed   Embedder
	cfg     PipelineConfig
}

func NewPipeline(docRepo *repository.DocumentRepository, store objstore.Store, embed Embedder, cfg PipelineConfig) *Pipeline {
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 100
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 5 * time.Minute
	}
	return &Pipeline{
		docRepo: docRepo,
		store:   store,
		embed:   embed,
		cfg:     cfg,
	}
}

// Process ingests one document. A missing document is benign cancellation
// (it was deleted after upload), not an error. Losing the claim race is a
// no-op. Returns an error only for infrastructure failures that prevented
// recording a terminal state.
func (p *Pipeline) Process(ctx context.Context, documentID uuid.UUID) (err error) {
	claimed, err := p.docRepo.ClaimForProcessing(documentID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("ingest: document %s not claimable (deleted, already processing, or ready)", documentID)
		return nil
	}

	doc, err := p.docRepo.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		// Deleted between claim and read; nothing left to do.
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ingest: panic processing document %s: %v", documentID, r)
			err = p.docRepo.MarkFailed(documentID, "internal error during processing")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.DocumentTimeout)
	defer cancel()

	chunks, failReason, err := p.run(runCtx, doc)
	if err != nil {
		return err
	}
	if failReason != "" {
		log.Printf("ingest: document %s failed: %s", documentID, failReason)
		return p.docRepo.MarkFailed(documentID, failReason)
	}

	if err := p.docRepo.CompleteIngestion(documentID, chunks); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted mid-processing; treat as benign cancellation.
			log.Printf("ingest: document %s deleted mid-processing", documentID)
			return nil
		}
		return err
	}
	log.Printf("ingest: document %s ready with %d chunks", documentID, len(chunks))
	return nil
}

// run performs the fallible pipeline steps. It returns a non-empty
// failReason for terminal input/provider failures, or an error for store
// failures the caller must surface.
func (p *Pipeline) run(ctx context.Context, doc *model.Document) (chunks []model.DocumentChunk, failReason string, err error) {
	raw, err := p.store.Get(ctx, doc.StoragePath)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, "uploaded file is missing from storage", nil
		}
		return nil, fmt.Sprintf("reading uploaded file failed: %v", err), nil
	}

	text, err := parser.Parse(raw, doc.FileType)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedType) {
			return nil, fmt.Sprintf("unsupported file type %q", doc.FileType), nil
		}
		return nil, fmt.Sprintf("could not parse %s content", doc.FileType), nil
	}

	pieces, err := chunker.Split(text, p.cfg.ChunkTargetTokens, p.cfg.ChunkOverlapTokens)
	if err != nil {
		return nil, "", err
	}
	if len(pieces) == 0 {
		return nil, "no extractable text", nil
	}

	embeddings, embedErr := p.embedAll(ctx, pieces)
	if embedErr != nil {
		if ctx.Err() != nil {
			return nil, "processing timed out", nil
		}
		return nil, "embedding provider unavailable", nil
	}

	chunks = make([]model.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		c := model.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    piece.Text,
			TokenCount: piece.TokenCount,
			Embedding:  pgvector.NewVector(embeddings[i]),
		}
		c.SetMetadata(map[string]any{
			"chunk_method": piece.Method,
			"start_offset": piece.StartOffset,
		})
		chunks[i] = c
	}
	return chunks, "", nil
}

// embedAll embeds chunk texts in bounded batches. Batches are issued in
// sequence order so results line up with chunk indices; any batch that
// exhausts its retry budget fails the whole document.
func (p *Pipeline) embedAll(ctx context.Context, pieces []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.EmbeddingBatchSize {
		end := start + p.cfg.EmbeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embed.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d] failed: %w", start, end, err)
		}
		all = append(all, vecs...)
	}
	if len(all) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(all))
	}
	return all, nil
}
