package app

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/platform/rabbitmq"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Workspace{},
		&model.User{},
		&model.Document{},
		&model.DocumentChunk{},
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeEnqueuer records published ingest jobs.
type fakeEnqueuer struct {
	jobs []rabbitmq.IngestJob
	err  error
}

func (f *fakeEnqueuer) Publish(ctx context.Context, job rabbitmq.IngestJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}
