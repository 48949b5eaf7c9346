// pkg/model/notification.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationRecord 通知记录
type NotificationRecord struct {
	ID        string           `gorm:"type:uuid;primaryKey" json:"id"`
	FilingID  string           `gorm:"type:uuid;not null;index" json:"filing_id"`
	Type      NotificationType `gorm:"type:varchar(30);not null" json:"type"`
	Channel   string           `gorm:"type:varchar(20);not null" json:"channel"` // nats, webhook
	Title     string           `gorm:"not null" json:"title"`
	Content   string           `gorm:"type:text" json:"content"`
	Sent      int              `gorm:"default:0" json:"sent"`
	Status    string           `gorm:"type:varchar(20);default:'pending'" json:"status"` // pending, sent, failed
	Error     string           `json:"error,omitempty"`
	SentAt    *time.Time       `json:"sent_at"`
	CreatedAt time.Time        `json:"created_at"`
}

func (n *NotificationRecord) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

func (NotificationRecord) TableName() string {
	return "notification_records"
}
