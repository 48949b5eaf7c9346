// pkg/model/filing.go
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxProcessingRetries 自动重试上限
const MaxProcessingRetries = 3

// Filing 一次SEC申报，以accession number唯一
type Filing struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID       string     `gorm:"type:uuid;not null;index" json:"company_id"`
	AccessionNumber string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"accession_number"`
	FilingType      FilingType `gorm:"type:varchar(16);not null;index" json:"filing_type"`
	FormType        string     `gorm:"type:varchar(16)" json:"form_type"` // RSS原始form，如 8-K/A
	FilingDate      time.Time  `gorm:"not null;index" json:"filing_date"`
	PeriodDate      *time.Time `json:"period_date,omitempty"`
	Ticker          string     `gorm:"type:varchar(16);index" json:"ticker"`

	FilingURL     string         `json:"filing_url"`
	PrimaryDocURL string         `json:"primary_doc_url"`
	FullTextURL   string         `json:"full_text_url"`
	ExhibitURLs   datatypes.JSON `json:"exhibit_urls"`

	Status       ProcessingStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ErrorMessage string           `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int              `gorm:"default:0" json:"retry_count"`
	NeedsReview  bool             `gorm:"default:false" json:"needs_review"`
	// 最近一次失败的错误类别
	ErrorKind string `gorm:"type:varchar(20)" json:"error_kind,omitempty"`
	// 只有临时错误会被自动重试
	Retryable bool `gorm:"default:false;index" json:"retryable"`

	// 行级租约，防止两个worker同时处理
	ClaimToken *string    `gorm:"type:varchar(36)" json:"-"`
	ClaimedAt  *time.Time `json:"-"`

	RawText           string         `gorm:"type:text" json:"-"`
	PrimaryContent    string         `gorm:"type:text" json:"-"`
	ExtractedSections datatypes.JSON `json:"extracted_sections,omitempty"`
	ItemNumbers       datatypes.JSON `json:"item_numbers,omitempty"`
	ItemDescriptions  datatypes.JSON `json:"item_descriptions,omitempty"`
	EventType         string         `json:"event_type,omitempty"`
	FiscalYear        int            `json:"fiscal_year,omitempty"`
	FiscalQuarter     string         `gorm:"type:varchar(8)" json:"fiscal_quarter,omitempty"`
	PeriodEndDate     string         `gorm:"type:varchar(32)" json:"period_end_date,omitempty"`
	AuditorOpinion    string         `gorm:"type:text" json:"auditor_opinion,omitempty"`
	FinancialData     datatypes.JSON `json:"financial_data,omitempty"`
	StructuredData    datatypes.JSON `json:"structured_data,omitempty"`

	UnifiedAnalysis        string         `gorm:"type:text" json:"unified_analysis,omitempty"`
	FeedSummary            string         `gorm:"type:varchar(200)" json:"feed_summary,omitempty"`
	MarkupData             datatypes.JSON `json:"markup_data,omitempty"`
	ManagementTone         ManagementTone `gorm:"type:varchar(20)" json:"management_tone,omitempty"`
	ToneExplanation        string         `gorm:"type:text" json:"tone_explanation,omitempty"`
	KeyQuestions           datatypes.JSON `json:"key_questions,omitempty"`
	KeyTags                datatypes.JSON `json:"key_tags,omitempty"`
	FinancialHighlights    string         `gorm:"type:text" json:"financial_highlights,omitempty"`
	ExpectationsComparison string         `gorm:"type:text" json:"expectations_comparison,omitempty"`
	AnalystExpectations    datatypes.JSON `json:"analyst_expectations,omitempty"`
	AIModel                string         `json:"ai_model,omitempty"`

	ViewCount    int `gorm:"default:0" json:"view_count"`
	CommentCount int `gorm:"default:0" json:"comment_count"`
	BullVotes    int `gorm:"default:0" json:"bull_votes"`
	BearVotes    int `gorm:"default:0" json:"bear_votes"`

	DetectedAt          *time.Time `json:"detected_at,omitempty"`
	DownloadStartedAt   *time.Time `json:"download_started_at,omitempty"`
	DownloadedAt        *time.Time `json:"downloaded_at,omitempty"`
	ParsedAt            *time.Time `json:"parsed_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	Company *Company `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE" json:"company,omitempty"`
}

func (f *Filing) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	return nil
}

func (Filing) TableName() string {
	return "filings"
}

// ShouldReprocess 因临时错误失败、未超过重试上限且不需要人工复核
func (f *Filing) ShouldReprocess() bool {
	return f.Status == StatusFailed && f.Retryable && f.RetryCount < MaxProcessingRetries && !f.NeedsReview
}

// IsCompleted 已完成且有分析内容
func (f *Filing) IsCompleted() bool {
	return f.Status == StatusCompleted && f.UnifiedAnalysis != ""
}

// QAPair 投资者问答
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Tags 解析KeyTags
func (f *Filing) Tags() []string {
	var tags []string
	if len(f.KeyTags) > 0 {
		_ = json.Unmarshal(f.KeyTags, &tags)
	}
	return tags
}

// ToJSON 序列化为datatypes.JSON，失败时返回空
func ToJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
