package conversation

import (
	"context"
	"time"

	"github.com/eleven-am/vision-chat/internal/shared"
	"gorm.io/gorm"
)

type TurnStatus string

const (
	TurnComplete TurnStatus = "complete"
	TurnFailed   TurnStatus = "error"
)

// TurnRecord is one finished question/answer exchange.
type TurnRecord struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	ConversationID string     `gorm:"not null;index" json:"conversation_id"`
	RequestID      string     `gorm:"uniqueIndex;not null" json:"request_id"`
	Model          string     `gorm:"not null" json:"model"`
	MediaKind      string     `json:"media_kind"`
	MediaSource    string     `json:"media_source"`
	FrameCount     int        `json:"frame_count"`
	Question       string     `gorm:"type:text;not null" json:"question"`
	Answer         string     `gorm:"type:text" json:"answer"`
	Error          string     `gorm:"type:text" json:"error,omitempty"`
	Status         TurnStatus `gorm:"not null;index" json:"status"`
	LatencyMs      int64      `json:"latency_ms"`
	CreatedAt      time.Time  `json:"created_at"`
}

type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

func (h *History) Migrate() error {
	return h.db.AutoMigrate(&TurnRecord{})
}

func (h *History) Record(ctx context.Context, rec *TurnRecord) error {
	if rec.ID == "" {
		rec.ID = shared.NewID("turn_")
	}
	return h.db.WithContext(ctx).Create(rec).Error
}

func (h *History) List(ctx context.Context, conversationID string, limit int) ([]*TurnRecord, error) {
	var records []*TurnRecord
	q := h.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

func (h *History) DeleteConversation(ctx context.Context, conversationID string) error {
	return h.db.WithContext(ctx).Delete(&TurnRecord{}, "conversation_id = ?", conversationID).Error
}
