// pkg/database/filing.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"FilingRadar/pkg/model"
)

// ErrStaleStatus 条件更新未命中：状态已被其他worker改变
var ErrStaleStatus = errors.New("filing状态已变化")

type FilingDB struct {
	db *gorm.DB
}

func (d *DB) Filing() *FilingDB {
	return &FilingDB{db: d.db}
}

// FilingQuery 列表过滤条件
type FilingQuery struct {
	Ticker     string
	FilingType string
	Status     string
	CompanyID  string
	Limit      int
	Offset     int
}

func (f *FilingDB) GetByID(ctx context.Context, id string) (*model.Filing, error) {
	var filing model.Filing
	err := f.db.WithContext(ctx).Preload("Company").First(&filing, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("查询filing失败: %w", notFound(err))
	}
	return &filing, nil
}

func (f *FilingDB) GetByAccession(ctx context.Context, accession string) (*model.Filing, error) {
	var filing model.Filing
	err := f.db.WithContext(ctx).Preload("Company").First(&filing, "accession_number = ?", accession).Error
	if err != nil {
		return nil, fmt.Errorf("按accession查询filing失败: %w", notFound(err))
	}
	return &filing, nil
}

// ExistsByAccession 检查accession是否已记录
func (f *FilingDB) ExistsByAccession(ctx context.Context, accession string) (bool, error) {
	var count int64
	err := f.db.WithContext(ctx).Model(&model.Filing{}).Where("accession_number = ?", accession).Count(&count).Error
	return count > 0, err
}

// CreateIfAbsent 以accession为幂等键插入，已存在时返回false
func (f *FilingDB) CreateIfAbsent(ctx context.Context, filing *model.Filing) (bool, error) {
	res := f.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "accession_number"}}, DoNothing: true}).
		Create(filing)
	if res.Error != nil {
		return false, fmt.Errorf("创建filing失败: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Transition 校验迁移表后执行条件更新 WHERE id=? AND status=from
func (f *FilingDB) Transition(ctx context.Context, id string, from, to model.ProcessingStatus, fields map[string]any) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}

	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	res := f.db.WithContext(ctx).Model(&model.Filing{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新filing状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s 期望 %s", ErrStaleStatus, id, from)
	}
	return nil
}

// Failure 一次处理失败的记录
type Failure struct {
	Message     string
	Kind        string
	Retryable   bool
	NeedsReview bool
}

// MarkFailed 记录失败并累加重试次数。from为failed时只更新失败信息，状态不变
func (f *FilingDB) MarkFailed(ctx context.Context, id string, from model.ProcessingStatus, fail Failure) error {
	fields := map[string]any{
		"error_message": fail.Message,
		"error_kind":    fail.Kind,
		"retryable":     fail.Retryable,
		"needs_review":  fail.NeedsReview,
		"retry_count":   gorm.Expr("retry_count + ?", 1),
	}
	if from != model.StatusFailed {
		return f.Transition(ctx, id, from, model.StatusFailed, fields)
	}

	res := f.db.WithContext(ctx).Model(&model.Filing{}).
		Where("id = ? AND status = ?", id, model.StatusFailed).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("更新失败记录失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s 期望 %s", ErrStaleStatus, id, from)
	}
	return nil
}

// Reset 显式重置为pending，用于人工重处理
func (f *FilingDB) Reset(ctx context.Context, id string) error {
	filing, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return f.Transition(ctx, id, filing.Status, model.StatusPending, map[string]any{
		"error_message": "",
		"error_kind":    "",
		"retryable":     false,
		"needs_review":  false,
		"retry_count":   0,
		"claim_token":   nil,
		"claimed_at":    nil,
	})
}

// Update 更新非状态字段
func (f *FilingDB) Update(ctx context.Context, id string, fields map[string]any) error {
	if _, ok := fields["status"]; ok {
		return errors.New("状态只能通过Transition修改")
	}
	if err := f.db.WithContext(ctx).Model(&model.Filing{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("更新filing失败: %w", err)
	}
	return nil
}

// Claim 获取行级租约。租约为空或已过期时才能获取
func (f *FilingDB) Claim(ctx context.Context, id, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res := f.db.WithContext(ctx).Model(&model.Filing{}).
		Where("id = ?", id).
		Where("(claim_token IS NULL OR claimed_at < ?)", now.Add(-ttl)).
		Updates(map[string]any{"claim_token": token, "claimed_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("获取filing租约失败: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release 释放自己持有的租约
func (f *FilingDB) Release(ctx context.Context, id, token string) error {
	return f.db.WithContext(ctx).Model(&model.Filing{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]any{"claim_token": nil, "claimed_at": nil}).Error
}

// ListPending 最早的pending记录，跳过持有有效租约的行
func (f *FilingDB) ListPending(ctx context.Context, limit int, claimTTL time.Duration) ([]*model.Filing, error) {
	var filings []*model.Filing
	err := f.db.WithContext(ctx).
		Where("status = ?", model.StatusPending).
		Where("(claim_token IS NULL OR claimed_at < ?)", time.Now().Add(-claimTTL)).
		Order("created_at ASC").
		Limit(limit).
		Find(&filings).Error
	if err != nil {
		return nil, fmt.Errorf("查询pending filing失败: %w", err)
	}
	return filings, nil
}

// ListRetryable 可自动重试的失败记录
func (f *FilingDB) ListRetryable(ctx context.Context, limit int) ([]*model.Filing, error) {
	var filings []*model.Filing
	err := f.db.WithContext(ctx).
		Where("status = ? AND retryable = ? AND retry_count < ? AND needs_review = ?", model.StatusFailed, true, model.MaxProcessingRetries, false).
		Order("updated_at ASC").
		Limit(limit).
		Find(&filings).Error
	if err != nil {
		return nil, fmt.Errorf("查询失败filing失败: %w", err)
	}
	return filings, nil
}

func (f *FilingDB) List(ctx context.Context, q FilingQuery) ([]*model.Filing, int64, error) {
	tx := f.db.WithContext(ctx).Model(&model.Filing{})
	if q.Ticker != "" {
		tx = tx.Where("ticker = ?", q.Ticker)
	}
	if q.FilingType != "" {
		tx = tx.Where("filing_type = ?", q.FilingType)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.CompanyID != "" {
		tx = tx.Where("company_id = ?", q.CompanyID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计filing失败: %w", err)
	}

	if q.Limit <= 0 {
		q.Limit = 20
	}

	var filings []*model.Filing
	err := tx.Preload("Company").
		Omit("raw_text", "primary_content").
		Order("filing_date DESC, created_at DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&filings).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询filing列表失败: %w", err)
	}
	return filings, total, nil
}

// Popular 浏览量最高的已完成filing
func (f *FilingDB) Popular(ctx context.Context, since time.Time, limit int) ([]*model.Filing, error) {
	var filings []*model.Filing
	err := f.db.WithContext(ctx).
		Preload("Company").
		Omit("raw_text", "primary_content").
		Where("status = ? AND filing_date >= ?", model.StatusCompleted, since).
		Order("view_count DESC").
		Limit(limit).
		Find(&filings).Error
	if err != nil {
		return nil, fmt.Errorf("查询热门filing失败: %w", err)
	}
	return filings, nil
}

func (f *FilingDB) IncrementViews(ctx context.Context, id string, n int) error {
	return f.db.WithContext(ctx).Model(&model.Filing{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", n)).Error
}

// BackfillTickers 公司补全ticker后回填到filing
func (f *FilingDB) BackfillTickers(ctx context.Context) (int64, error) {
	res := f.db.WithContext(ctx).Exec(`
		UPDATE filings SET ticker = (
			SELECT c.ticker FROM companies c WHERE c.id = filings.company_id
		)
		WHERE (ticker IS NULL OR ticker = '')
		AND EXISTS (
			SELECT 1 FROM companies c
			WHERE c.id = filings.company_id AND c.ticker IS NOT NULL AND c.ticker <> ''
		)`)
	if res.Error != nil {
		return 0, fmt.Errorf("回填ticker失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
