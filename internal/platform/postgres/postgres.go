package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func New(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get postgres sql db failed: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres failed: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create vector extension failed: %w", err)
	}

	return db, nil
}

// EnsureVectorIndex creates the ANN index over chunk embeddings. It must run
// after AutoMigrate so the document_chunks table exists.
func EnsureVectorIndex(db *gorm.DB) error {
	stmt := `CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx
		ON document_chunks
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create embedding index failed: %w", err)
	}
	return nil
}
