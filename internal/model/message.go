package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation points an assistant answer back at the chunk that grounded it.
// Citations are a snapshot taken at generation time: deleting the cited
// document later does not invalidate them.
type Citation struct {
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	ChunkID       uuid.UUID `json:"chunk_id"`
	Snippet       string    `json:"snippet"`
}

// CitationList is stored as a JSONB column on assistant messages.
type CitationList []Citation

func (l CitationList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *CitationList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported citation column type %T", src)
	}
	return json.Unmarshal(raw, l)
}

// Message is one turn in a conversation. Sources is non-nil only on
// assistant messages that grounded successfully.
type Message struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Role           string       `gorm:"size:10;not null" json:"role"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	Sources        CitationList `gorm:"type:jsonb" json:"sources,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
