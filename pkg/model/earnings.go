package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EarningsCalendar 财报日历，(company_id, earnings_date) 唯一
type EarningsCalendar struct {
	ID              string       `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID       string       `gorm:"type:uuid;not null;uniqueIndex:idx_company_earnings_date" json:"company_id"`
	EarningsDate    time.Time    `gorm:"type:date;not null;uniqueIndex:idx_company_earnings_date" json:"earnings_date"`
	EarningsTime    EarningsTime `gorm:"type:varchar(8);default:'tns'" json:"earnings_time"`
	FiscalQuarter   string       `gorm:"type:varchar(16)" json:"fiscal_quarter"`
	FiscalYear      int          `json:"fiscal_year"`
	EPSEstimate     *float64     `json:"eps_estimate"`
	RevenueEstimate *float64     `json:"revenue_estimate"`
	EPSActual       *float64     `json:"eps_actual"`
	RevenueActual   *float64     `json:"revenue_actual"`
	Source          string       `gorm:"type:varchar(20);default:'fmp'" json:"source"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	Company *Company `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE" json:"company,omitempty"`
}

func (e *EarningsCalendar) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (EarningsCalendar) TableName() string {
	return "earnings_calendar"
}
