package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"founderos-knowledge/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Workspace{},
		&model.User{},
		&model.Document{},
		&model.DocumentChunk{},
		&model.Conversation{},
		&model.Message{},
	))
	return db
}

func newQueuedDocument(t *testing.T, repo *DocumentRepository, workspaceID uuid.UUID) *model.Document {
	t.Helper()
	doc := &model.Document{
		WorkspaceID:   workspaceID,
		UploadedBy:    uuid.New(),
		Title:         "notes.txt",
		StoragePath:   "ws/doc/notes.txt",
		FileSizeBytes: 10,
		FileType:      "txt",
		Status:        model.StatusQueued,
	}
	require.NoError(t, repo.Create(doc))
	return doc
}
