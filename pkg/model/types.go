package model

import "strings"

// FilingType SEC表格类型
type FilingType string

const (
	FilingType10K     FilingType = "10-K"
	FilingType10Q     FilingType = "10-Q"
	FilingType8K      FilingType = "8-K"
	FilingTypeS1      FilingType = "S-1"
	FilingTypeS1A     FilingType = "S-1/A"
	FilingType424B4   FilingType = "424B4"
	FilingTypeDEF14A  FilingType = "DEF 14A"
	FilingType20F     FilingType = "20-F"
	FilingTypeOther   FilingType = "OTHER"
	FilingTypeUnknown FilingType = "UNKNOWN"
)

// ParseFilingType 将RSS中的form字符串映射为FilingType，8-K/A等变体归入基础类型
func ParseFilingType(form string) FilingType {
	f := strings.ToUpper(strings.TrimSpace(form))
	switch f {
	case "S-1/A":
		return FilingTypeS1A
	case "DEF 14A":
		return FilingTypeDEF14A
	case "424B4":
		return FilingType424B4
	case "20-F":
		return FilingType20F
	}

	base := BaseForm(f)
	switch base {
	case "10-K":
		return FilingType10K
	case "10-Q":
		return FilingType10Q
	case "8-K":
		return FilingType8K
	case "S-1":
		return FilingTypeS1
	case "":
		return FilingTypeUnknown
	}
	return FilingTypeOther
}

// BaseForm 去掉 "/A" 之类的后缀
func BaseForm(form string) string {
	f := strings.ToUpper(strings.TrimSpace(form))
	if i := strings.Index(f, "/"); i >= 0 {
		f = f[:i]
	}
	return strings.TrimSpace(f)
}

// IsS1 S-1及其修订版
func (t FilingType) IsS1() bool {
	return t == FilingTypeS1 || t == FilingTypeS1A
}

// ManagementTone 管理层语气
type ManagementTone string

const (
	ToneOptimistic ManagementTone = "optimistic"
	ToneConfident  ManagementTone = "confident"
	ToneNeutral    ManagementTone = "neutral"
	ToneCautious   ManagementTone = "cautious"
	ToneConcerned  ManagementTone = "concerned"
)

// ParseTone 未知取值归为neutral
func ParseTone(s string) ManagementTone {
	switch ManagementTone(strings.ToLower(strings.TrimSpace(s))) {
	case ToneOptimistic, "very_optimistic", "bullish", "positive":
		return ToneOptimistic
	case ToneConfident:
		return ToneConfident
	case ToneCautious:
		return ToneCautious
	case ToneConcerned, "pessimistic", "negative", "bearish":
		return ToneConcerned
	}
	return ToneNeutral
}

// EarningsTime 财报发布时间
type EarningsTime string

const (
	EarningsBMO EarningsTime = "bmo" // 开盘前
	EarningsAMC EarningsTime = "amc" // 收盘后
	EarningsTNS EarningsTime = "tns" // 未定
)

// NotificationType 通知类型
type NotificationType string

const (
	NotifyFilingCompleted NotificationType = "filing_completed"
	NotifyFilingFailed    NotificationType = "filing_failed"
	NotifyFilingReview    NotificationType = "filing_review"
)
