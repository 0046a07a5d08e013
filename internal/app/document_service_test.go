package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/objstore"
	"founderos-knowledge/internal/repository"
)

// memStore is an in-memory objstore.Store.
type memStore struct {
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(ctx context.Context, path string, r io.Reader) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memStore) Get(ctx context.Context, path string) ([]byte, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	return b, nil
}

func (m *memStore) Delete(ctx context.Context, path string) error {
	delete(m.objects, path)
	return nil
}

type documentFixture struct {
	svc      *DocumentService
	repo     *repository.DocumentRepository
	store    *memStore
	enqueuer *fakeEnqueuer
	db       *gorm.DB
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	db := newTestDB(t)
	repo := repository.NewDocumentRepository(db)
	store := newMemStore()
	enqueuer := &fakeEnqueuer{}
	return &documentFixture{
		svc:      NewDocumentService(repo, store, enqueuer, 1<<20),
		repo:     repo,
		store:    store,
		enqueuer: enqueuer,
		db:       db,
	}
}

func TestUploadQueuesDocument(t *testing.T) {
	f := newDocumentFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()

	doc, err := f.svc.Upload(context.Background(), UploadInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Filename:    "notes.md",
		Data:        []byte("# Plan\n\nShip it."),
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusQueued, doc.Status)
	assert.Equal(t, "notes.md", doc.Title)
	assert.Equal(t, "md", doc.FileType)
	assert.EqualValues(t, len("# Plan\n\nShip it."), doc.FileSizeBytes)
	assert.Equal(t, fmt.Sprintf("%s/%s/notes.md", workspaceID, doc.ID), doc.StoragePath)

	stored, err := f.store.Get(context.Background(), doc.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("# Plan\n\nShip it."), stored)

	require.Len(t, f.enqueuer.jobs, 1)
	assert.Equal(t, doc.ID, f.enqueuer.jobs[0].DocumentID)

	persisted, err := f.repo.GetByIDAndWorkspace(doc.ID, workspaceID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, model.StatusQueued, persisted.Status)
}

func TestUploadStripsDirectoryFromFilename(t *testing.T) {
	f := newDocumentFixture(t)

	doc, err := f.svc.Upload(context.Background(), UploadInput{
		WorkspaceID: uuid.New(),
		UserID:      uuid.New(),
		Filename:    "../../etc/passwd.txt",
		Data:        []byte("contents"),
	})
	require.NoError(t, err)
	assert.Equal(t, "passwd.txt", doc.Title)
}

func TestUploadRejectsBadFiles(t *testing.T) {
	f := newDocumentFixture(t)
	workspaceID := uuid.New()
	userID := uuid.New()

	_, err := f.svc.Upload(context.Background(), UploadInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Filename:    "slides.pptx",
		Data:        []byte("data"),
	})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = f.svc.Upload(context.Background(), UploadInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Filename:    "empty.txt",
		Data:        nil,
	})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = f.svc.Upload(context.Background(), UploadInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Filename:    "big.txt",
		Data:        bytes.Repeat([]byte("x"), 1<<20+1),
	})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.Empty(t, f.enqueuer.jobs)
	assert.Empty(t, f.store.objects)
}

func TestUploadSurvivesEnqueueFailure(t *testing.T) {
	f := newDocumentFixture(t)
	f.enqueuer.err = errors.New("broker down")

	doc, err := f.svc.Upload(context.Background(), UploadInput{
		WorkspaceID: uuid.New(),
		UserID:      uuid.New(),
		Filename:    "notes.md",
		Data:        []byte("text"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, doc.Status)
}

func TestDeleteRemovesRowAndObject(t *testing.T) {
	f := newDocumentFixture(t)
	workspaceID := uuid.New()
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, UploadInput{
		WorkspaceID: workspaceID,
		UserID:      uuid.New(),
		Filename:    "notes.md",
		Data:        []byte("text"),
	})
	require.NoError(t, err)

	// A different workspace cannot delete it.
	err = f.svc.Delete(ctx, uuid.New(), doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	require.NoError(t, f.svc.Delete(ctx, workspaceID, doc.ID))

	_, err = f.svc.Get(workspaceID, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.store.Get(ctx, doc.StoragePath)
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestRetryRequeuesFailedDocument(t *testing.T) {
	f := newDocumentFixture(t)
	workspaceID := uuid.New()
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, UploadInput{
		WorkspaceID: workspaceID,
		UserID:      uuid.New(),
		Filename:    "notes.md",
		Data:        []byte("text"),
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&model.Document{}).
		Where("id = ?", doc.ID).
		Update("status", model.StatusFailed).Error)

	retried, err := f.svc.Retry(ctx, workspaceID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, retried.ID)
	require.Len(t, f.enqueuer.jobs, 2)
	assert.Equal(t, doc.ID, f.enqueuer.jobs[1].DocumentID)

	for _, status := range []string{model.StatusProcessing, model.StatusReady} {
		require.NoError(t, f.db.Model(&model.Document{}).
			Where("id = ?", doc.ID).
			Update("status", status).Error)
		_, err = f.svc.Retry(ctx, workspaceID, doc.ID)
		assert.ErrorIs(t, err, ErrDocumentNotRetry)
	}
}

func TestRetryRecoversQueuedDocumentAfterLostEnqueue(t *testing.T) {
	f := newDocumentFixture(t)
	workspaceID := uuid.New()
	ctx := context.Background()

	f.enqueuer.err = errors.New("broker down")
	doc, err := f.svc.Upload(ctx, UploadInput{
		WorkspaceID: workspaceID,
		UserID:      uuid.New(),
		Filename:    "notes.md",
		Data:        []byte("text"),
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, doc.Status)
	require.Empty(t, f.enqueuer.jobs)

	// Broker comes back; the queued row must be republishable.
	f.enqueuer.err = nil
	retried, err := f.svc.Retry(ctx, workspaceID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, retried.Status)
	require.Len(t, f.enqueuer.jobs, 1)
	assert.Equal(t, doc.ID, f.enqueuer.jobs[0].DocumentID)
}

func TestRetrySurfacesBrokerFailure(t *testing.T) {
	f := newDocumentFixture(t)
	workspaceID := uuid.New()
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, UploadInput{
		WorkspaceID: workspaceID,
		UserID:      uuid.New(),
		Filename:    "notes.md",
		Data:        []byte("text"),
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.Document{}).
		Where("id = ?", doc.ID).
		Update("status", model.StatusFailed).Error)

	f.enqueuer.err = errors.New("broker down")
	_, err = f.svc.Retry(ctx, workspaceID, doc.ID)
	assert.ErrorIs(t, err, ErrIngestUnavailable)
}
