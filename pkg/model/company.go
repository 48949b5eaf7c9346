// pkg/model/company.go
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Company 上市公司或S-1申报人
type Company struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	CIK            string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"cik"`
	Ticker         *string   `gorm:"type:varchar(16);index" json:"ticker"` // IPO前为空
	Name           string    `gorm:"not null" json:"name"`
	Sector         string    `json:"sector,omitempty"`
	Industry       string    `json:"industry,omitempty"`
	SICCode        string    `gorm:"type:varchar(8)" json:"sic_code,omitempty"`
	SICDescription string    `json:"sic_description,omitempty"`
	IsSP500        bool      `gorm:"default:false;index" json:"is_sp500"`
	IsNasdaq100    bool      `gorm:"default:false;index" json:"is_nasdaq100"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func (Company) TableName() string {
	return "companies"
}

// DisplayTicker 没有ticker时使用 IPO-<CIK后四位>
func (c *Company) DisplayTicker() string {
	if c.Ticker != nil && *c.Ticker != "" {
		return *c.Ticker
	}
	cik := c.CIK
	if len(cik) > 4 {
		cik = cik[len(cik)-4:]
	}
	return "IPO-" + cik
}

// HasTicker 是否有真实ticker
func (c *Company) HasTicker() bool {
	return c.Ticker != nil && *c.Ticker != ""
}

// IsPlaceholderCIK 占位CIK不参与监控
func IsPlaceholderCIK(cik string) bool {
	return cik == "" || cik == "0000000000" || strings.HasPrefix(strings.ToUpper(cik), "N")
}
