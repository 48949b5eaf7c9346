// pkg/database/company.go
package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"FilingRadar/pkg/model"
)

type CompanyDB struct {
	db *gorm.DB
}

func (d *DB) Company() *CompanyDB {
	return &CompanyDB{db: d.db}
}

func (c *CompanyDB) GetByID(ctx context.Context, id string) (*model.Company, error) {
	var company model.Company
	if err := c.db.WithContext(ctx).First(&company, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询公司失败: %w", notFound(err))
	}
	return &company, nil
}

func (c *CompanyDB) GetByCIK(ctx context.Context, cik string) (*model.Company, error) {
	var company model.Company
	if err := c.db.WithContext(ctx).First(&company, "cik = ?", cik).Error; err != nil {
		return nil, fmt.Errorf("按CIK查询公司失败: %w", notFound(err))
	}
	return &company, nil
}

func (c *CompanyDB) Create(ctx context.Context, company *model.Company) error {
	if err := c.db.WithContext(ctx).Create(company).Error; err != nil {
		return fmt.Errorf("创建公司失败: %w", err)
	}
	return nil
}

func (c *CompanyDB) Save(ctx context.Context, company *model.Company) error {
	return c.db.WithContext(ctx).Save(company).Error
}

// MonitoredCIKs 数据库中标记为S&P 500或NASDAQ 100的公司
func (c *CompanyDB) MonitoredCIKs(ctx context.Context) ([]string, error) {
	var ciks []string
	err := c.db.WithContext(ctx).Model(&model.Company{}).
		Where("is_sp500 = ? OR is_nasdaq100 = ?", true, true).
		Pluck("cik", &ciks).Error
	if err != nil {
		return nil, fmt.Errorf("查询监控公司失败: %w", err)
	}
	return ciks, nil
}

// ListMonitored 有ticker的活跃监控公司
func (c *CompanyDB) ListMonitored(ctx context.Context) ([]*model.Company, error) {
	var companies []*model.Company
	err := c.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("(is_sp500 = ? OR is_nasdaq100 = ?)", true, true).
		Where("ticker IS NOT NULL AND ticker <> ''").
		Order("ticker ASC").
		Find(&companies).Error
	if err != nil {
		return nil, fmt.Errorf("查询监控公司失败: %w", err)
	}
	return companies, nil
}

func (c *CompanyDB) List(ctx context.Context, limit, offset int) ([]*model.Company, error) {
	var companies []*model.Company
	err := c.db.WithContext(ctx).
		Order("name ASC").
		Limit(limit).
		Offset(offset).
		Find(&companies).Error
	if err != nil {
		return nil, fmt.Errorf("查询公司列表失败: %w", err)
	}
	return companies, nil
}

// ByTickers 按ticker批量查询
func (c *CompanyDB) ByTickers(ctx context.Context, tickers []string) (map[string]*model.Company, error) {
	var companies []*model.Company
	if err := c.db.WithContext(ctx).Where("ticker IN ?", tickers).Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("按ticker查询公司失败: %w", err)
	}
	out := make(map[string]*model.Company, len(companies))
	for _, company := range companies {
		out[*company.Ticker] = company
	}
	return out, nil
}
