// pkg/database/earnings.go
package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"FilingRadar/pkg/model"
)

type EarningsDB struct {
	db *gorm.DB
}

func (d *DB) Earnings() *EarningsDB {
	return &EarningsDB{db: d.db}
}

// Upsert 按 (company_id, earnings_date) 插入或更新
func (e *EarningsDB) Upsert(ctx context.Context, entry *model.EarningsCalendar) error {
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "earnings_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"earnings_time", "fiscal_quarter", "fiscal_year",
			"eps_estimate", "revenue_estimate", "eps_actual", "revenue_actual",
			"source", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("保存财报日历失败: %w", err)
	}
	return nil
}

// Upcoming 时间范围内的财报日历
func (e *EarningsDB) Upcoming(ctx context.Context, from, to time.Time, limit int) ([]*model.EarningsCalendar, error) {
	var entries []*model.EarningsCalendar
	err := e.db.WithContext(ctx).
		Preload("Company").
		Where("earnings_date BETWEEN ? AND ?", from, to).
		Order("earnings_date ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("查询财报日历失败: %w", err)
	}
	return entries, nil
}

func (e *EarningsDB) ByCompany(ctx context.Context, companyID string, limit int) ([]*model.EarningsCalendar, error) {
	var entries []*model.EarningsCalendar
	err := e.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("earnings_date DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("查询公司财报日历失败: %w", err)
	}
	return entries, nil
}

func (e *EarningsDB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := e.db.WithContext(ctx).Model(&model.EarningsCalendar{}).Count(&n).Error
	return n, err
}
