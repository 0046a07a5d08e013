package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/objstore"
	"founderos-knowledge/internal/parser"
	"founderos-knowledge/internal/platform/rabbitmq"
	"founderos-knowledge/internal/repository"
)

const defaultMaxUploadBytes int64 = 50 << 20

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrFileTooLarge      = errors.New("file exceeds the maximum allowed size")
	ErrEmptyFile         = errors.New("file is empty")
	ErrDocumentNotRetry  = errors.New("only queued or failed documents can be retried")
	ErrIngestUnavailable = errors.New("ingest queue unavailable")
)

type IngestEnqueuer interface {
	Publish(ctx context.Context, job rabbitmq.IngestJob) error
}

// DocumentService owns the document lifecycle around the async pipeline:
// uploads land in object storage and a queued row, a job goes on the queue,
// and the worker drives the row to ready or failed.
type DocumentService struct {
	docRepo     *repository.DocumentRepository
	store       objstore.Store
	enqueuer    IngestEnqueuer
	maxFileSize int64
}

func NewDocumentService(
	docRepo *repository.DocumentRepository,
	store objstore.Store,
	enqueuer IngestEnqueuer,
	maxFileSize int64,
) *DocumentService {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxUploadBytes
	}
	return &DocumentService{
		docRepo:     docRepo,
		store:       store,
		enqueuer:    enqueuer,
		maxFileSize: maxFileSize,
	}
}

type UploadInput struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Filename    string
	Data        []byte
}

// Upload validates the file, persists the raw bytes, records a queued
// document, and enqueues an ingest job. The stored object lives at an
// opaque per-document path so concurrent uploads of the same filename
// never collide.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	if input.WorkspaceID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	filename := filepath.Base(strings.TrimSpace(input.Filename))
	if filename == "" || filename == "." {
		return nil, ErrInvalidInput
	}
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !parser.Supported(fileType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFile, fileType)
	}
	if len(input.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(input.Data)) > s.maxFileSize {
		return nil, ErrFileTooLarge
	}

	doc := &model.Document{
		ID:            uuid.New(),
		WorkspaceID:   input.WorkspaceID,
		UploadedBy:    input.UserID,
		Title:         filename,
		FileType:      fileType,
		FileSizeBytes: int64(len(input.Data)),
		Status:        model.StatusQueued,
	}
	doc.StoragePath = fmt.Sprintf("%s/%s/%s", input.WorkspaceID, doc.ID, filename)

	if err := s.store.Put(ctx, doc.StoragePath, bytes.NewReader(input.Data)); err != nil {
		return nil, fmt.Errorf("store upload failed: %w", err)
	}

	if err := s.docRepo.Create(doc); err != nil {
		_ = s.store.Delete(ctx, doc.StoragePath)
		return nil, err
	}

	if err := s.enqueuer.Publish(ctx, rabbitmq.IngestJob{DocumentID: doc.ID}); err != nil {
		// The row stays queued; a retry or sweep-free requeue can pick it up.
		log.Printf("documents: enqueue ingest job for %s failed: %v", doc.ID, err)
		return doc, nil
	}
	return doc, nil
}

func (s *DocumentService) List(workspaceID uuid.UUID) ([]model.Document, error) {
	if workspaceID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByWorkspace(workspaceID)
}

func (s *DocumentService) Get(workspaceID, documentID uuid.UUID) (*model.Document, error) {
	if workspaceID == uuid.Nil || documentID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndWorkspace(documentID, workspaceID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes the document row, its chunks, and the stored object.
// Deleting mid-processing is allowed; the in-flight pipeline run notices
// the missing row and discards its work.
func (s *DocumentService) Delete(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	doc, err := s.Get(workspaceID, documentID)
	if err != nil {
		return err
	}
	if err := s.docRepo.Delete(documentID, workspaceID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc.StoragePath); err != nil && !errors.Is(err, objstore.ErrNotFound) {
		log.Printf("documents: delete stored object %s failed: %v", doc.StoragePath, err)
	}
	return nil
}

// Retry re-enqueues a failed document, or a queued one whose original job
// never reached the broker (publish failure at upload, or a delivery lost
// before the claim). The claim CAS makes a duplicate delivery harmless.
func (s *DocumentService) Retry(ctx context.Context, workspaceID, documentID uuid.UUID) (*model.Document, error) {
	doc, err := s.Get(workspaceID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.StatusFailed && doc.Status != model.StatusQueued {
		return nil, ErrDocumentNotRetry
	}

	if err := s.enqueuer.Publish(ctx, rabbitmq.IngestJob{DocumentID: doc.ID}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngestUnavailable, err)
	}
	return doc, nil
}
