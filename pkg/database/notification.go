package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"FilingRadar/pkg/model"
)

type NotificationDB struct {
	db *gorm.DB
}

func (d *DB) Notification() *NotificationDB {
	return &NotificationDB{db: d.db}
}

func (n *NotificationDB) Save(ctx context.Context, record *model.NotificationRecord) error {
	if err := n.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("保存通知记录失败: %w", err)
	}
	return nil
}

func (n *NotificationDB) ByFiling(ctx context.Context, filingID string) ([]*model.NotificationRecord, error) {
	var records []*model.NotificationRecord
	err := n.db.WithContext(ctx).
		Where("filing_id = ?", filingID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询通知记录失败: %w", err)
	}
	return records, nil
}
