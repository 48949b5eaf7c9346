package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"FilingRadar/pkg/model"
)

// Items8K SEC标准8-K Item及描述
var Items8K = map[string]string{
	"1.01": "Entry into a Material Definitive Agreement",
	"1.02": "Termination of a Material Definitive Agreement",
	"1.03": "Bankruptcy or Receivership",
	"2.01": "Completion of Acquisition or Disposition of Assets",
	"2.02": "Results of Operations and Financial Condition",
	"2.03": "Creation of a Direct Financial Obligation",
	"3.01": "Notice of Delisting or Failure to Satisfy a Continued Listing Rule",
	"3.02": "Unregistered Sales of Equity Securities",
	"4.01": "Changes in Registrant's Certifying Accountant",
	"5.01": "Changes in Control of Registrant",
	"5.02": "Departure of Directors or Certain Officers",
	"5.03": "Amendments to Articles of Incorporation or Bylaws",
	"5.07": "Submission of Matters to a Vote of Security Holders",
	"7.01": "Regulation FD Disclosure",
	"8.01": "Other Events",
	"9.01": "Financial Statements and Exhibits",
}

const (
	maxFinancialLines  = 10
	maxAuditorOpinion  = 1000
	maxFinancialLength = 300
)

// ItemInfo 8-K Item编号和描述
type ItemInfo struct {
	Number      string `json:"item_number"`
	Description string `json:"description"`
	RawText     string `json:"raw_text"`
}

// Timeline 8-K事件时间线，ISO日期
type Timeline struct {
	EventDate     string `json:"event_date,omitempty"`
	FilingDate    string `json:"filing_date,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
}

// IsZero 没有任何日期
func (t Timeline) IsZero() bool {
	return t.EventDate == "" && t.FilingDate == "" && t.EffectiveDate == ""
}

// OfferingHints S-1发行信息
type OfferingHints struct {
	PriceLow  string `json:"price_low,omitempty"`
	PriceHigh string `json:"price_high,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	Ticker    string `json:"ticker,omitempty"`
}

// FilingData 从文本中抽取的结构化字段，缺失字段为空
type FilingData struct {
	FiscalYear      int            `json:"fiscal_year,omitempty"`
	FiscalQuarter   string         `json:"fiscal_quarter,omitempty"`
	PeriodEndDate   string         `json:"period_end_date,omitempty"`
	Items           []ItemInfo     `json:"items,omitempty"`
	ItemType        string         `json:"item_type,omitempty"`
	EventType       string         `json:"event_type,omitempty"`
	EventTimeline   *Timeline      `json:"event_timeline,omitempty"`
	AuditorOpinion  string         `json:"auditor_opinion,omitempty"`
	FinancialTables []string       `json:"financial_tables,omitempty"`
	Offering        *OfferingHints `json:"offering,omitempty"`
}

// ItemNumbers Item编号列表
func (d *FilingData) ItemNumbers() []string {
	out := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		out = append(out, it.Number)
	}
	return out
}

// ItemDescriptions Item描述列表
func (d *FilingData) ItemDescriptions() []string {
	out := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		out = append(out, it.Description)
	}
	return out
}

var (
	itemLine = regexp.MustCompile(`(?i)Item\s+(\d+\.\d+)\s*[.:]?\s*([^\n]*)`)

	monthDate     = `([A-Z][a-z]+\.?\s+\d{1,2},?\s+\d{4})`
	eventDate     = regexp.MustCompile(`(?i)\b(?:on|dated?)\s+` + monthDate)
	effectiveDate = regexp.MustCompile(`(?i)\beffective\s+(?:as\s+of\s+)?` + monthDate)
	filedDate     = regexp.MustCompile(`(?i)\bfiled?\s+(?:on\s+)?` + monthDate)

	fiscalYearRe  = regexp.MustCompile(`(?i)fiscal\s+year\s+(?:ended?|ending)\s+.*?(\d{4})`)
	ordinalQtr    = regexp.MustCompile(`(?i)\b(first|second|third|fourth)\s+(fiscal\s+)?quarter`)
	numberedQtr   = regexp.MustCompile(`\bQ([1-4])\s+(\d{4})\b`)
	periodEndedRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)period\s+ended?\s+` + monthDate),
		regexp.MustCompile(`(?i)for\s+the\s+(?:fiscal\s+)?(?:year|quarter)\s+ended?\s+` + monthDate),
		regexp.MustCompile(`(?i)as\s+of\s+` + monthDate),
	}

	auditorOpinionRe = []*regexp.Regexp{
		regexp.MustCompile(`(?is)opinion\s+on\s+the\s+financial\s+statements(.*?)(?:critical\s+audit|basis\s+for)`),
		regexp.MustCompile(`(?is)report\s+of\s+independent.*?auditors?(.*?)(?:critical\s+audit|basis\s+for)`),
		regexp.MustCompile(`(?is)we\s+have\s+audited(.*?)(?:in\s+our\s+opinion|we\s+believe)`),
	}

	financialKeyword = regexp.MustCompile(`(?i)(revenue|income|assets|cash\s+flow)`)
	financialNumber  = regexp.MustCompile(`(\$\s?\d|\d{1,3}(,\d{3})+|\d+\.\d+)`)

	priceRange  = regexp.MustCompile(`\$(\d+(?:\.\d+)?)\s+and\s+\$(\d+(?:\.\d+)?)`)
	exchangeRe  = regexp.MustCompile(`(?i)(New\s+York\s+Stock\s+Exchange|NYSE|Nasdaq\s+(Global\s+Select\s+|Global\s+|Capital\s+)?Market|NASDAQ)`)
	tickerRe    = regexp.MustCompile(`(?i:under\s+the\s+(?:trading\s+)?symbol)\s+["“']?([A-Z]{1,5})\b`)
	wordsSpaces = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006", "Jan. 2, 2006"}

// parseMonthDate 解析 "March 15, 2024" 一类日期，返回 2006-01-02 格式
func parseMonthDate(s string) (string, bool) {
	s = wordsSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// ExtractFilingData 纯函数，不做IO
func ExtractFilingData(text string, filingType model.FilingType) *FilingData {
	d := &FilingData{}
	d.FiscalYear, d.FiscalQuarter = fiscalPeriod(text)
	d.PeriodEndDate = periodEndDate(text)
	if d.FiscalYear == 0 && len(d.PeriodEndDate) >= 4 {
		d.FiscalYear, _ = strconv.Atoi(d.PeriodEndDate[:4])
		if d.FiscalQuarter != "" && !strings.Contains(d.FiscalQuarter, " ") {
			d.FiscalQuarter += " " + d.PeriodEndDate[:4]
		}
	}

	switch {
	case model.BaseForm(string(filingType)) == "8-K":
		d.Items = Extract8KItems(text)
		if len(d.Items) > 0 {
			d.ItemType = d.Items[0].Number
			d.EventType = d.Items[0].Description
		}
		if tl := eventTimeline(text); !tl.IsZero() {
			d.EventTimeline = &tl
		}
	case filingType == model.FilingType10K:
		d.AuditorOpinion = AuditorOpinion(text)
	case filingType == model.FilingType10Q:
		d.FinancialTables = FinancialLines(text)
	case filingType.IsS1():
		if o := offeringHints(text); o != (OfferingHints{}) {
			d.Offering = &o
		}
	}
	return d
}

// Extract8KItems 按出现顺序的Item，编号去重，已知编号使用标准描述
func Extract8KItems(text string) []ItemInfo {
	var items []ItemInfo
	seen := make(map[string]bool)
	for _, m := range itemLine.FindAllStringSubmatch(text, -1) {
		num := m[1]
		if seen[num] {
			continue
		}
		seen[num] = true
		raw := strings.Trim(wordsSpaces.ReplaceAllString(strings.TrimSpace(m[2]), " "), ".")
		desc, ok := Items8K[num]
		if !ok {
			desc = raw
		}
		items = append(items, ItemInfo{Number: num, Description: desc, RawText: raw})
	}
	return items
}

// ItemDescription 标准Item描述
func ItemDescription(num string) (string, bool) {
	d, ok := Items8K[num]
	return d, ok
}

func eventTimeline(text string) Timeline {
	var tl Timeline
	if m := eventDate.FindStringSubmatch(text); m != nil {
		tl.EventDate, _ = parseMonthDate(m[1])
	}
	if m := effectiveDate.FindStringSubmatch(text); m != nil {
		tl.EffectiveDate, _ = parseMonthDate(m[1])
	}
	if m := filedDate.FindStringSubmatch(text); m != nil {
		tl.FilingDate, _ = parseMonthDate(m[1])
	}
	return tl
}

var ordinalToQuarter = map[string]string{"first": "Q1", "second": "Q2", "third": "Q3", "fourth": "Q4"}

func fiscalPeriod(text string) (int, string) {
	year := 0
	if m := fiscalYearRe.FindStringSubmatch(text); m != nil {
		year, _ = strconv.Atoi(m[1])
	}

	quarter := ""
	if m := ordinalQtr.FindStringSubmatch(text); m != nil {
		quarter = ordinalToQuarter[strings.ToLower(m[1])]
	} else if m := numberedQtr.FindStringSubmatch(text); m != nil {
		quarter = "Q" + m[1]
		if year == 0 {
			year, _ = strconv.Atoi(m[2])
		}
	}

	if quarter != "" && year != 0 {
		quarter += " " + strconv.Itoa(year)
	}
	return year, quarter
}

func periodEndDate(text string) string {
	for _, re := range periodEndedRe {
		if m := re.FindStringSubmatch(text); m != nil {
			if d, ok := parseMonthDate(m[1]); ok {
				return d
			}
		}
	}
	return ""
}

// AuditorOpinion 审计意见段落，最多1000字符
func AuditorOpinion(text string) string {
	for _, re := range auditorOpinionRe {
		if m := re.FindStringSubmatch(text); m != nil {
			op := strings.TrimSpace(wordsSpaces.ReplaceAllString(m[1], " "))
			if op != "" {
				return truncate(op, maxAuditorOpinion)
			}
		}
	}
	return ""
}

// FinancialLines 含财务关键词和数字的行，最多10行
func FinancialLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if l == "" || !financialKeyword.MatchString(l) || !financialNumber.MatchString(l) {
			continue
		}
		out = append(out, truncate(l, maxFinancialLength))
		if len(out) >= maxFinancialLines {
			break
		}
	}
	return out
}

func offeringHints(text string) OfferingHints {
	var o OfferingHints
	if m := priceRange.FindStringSubmatch(text); m != nil {
		o.PriceLow, o.PriceHigh = m[1], m[2]
	}
	if m := exchangeRe.FindString(text); m != "" {
		if strings.Contains(strings.ToUpper(m), "NASDAQ") {
			o.Exchange = "NASDAQ"
		} else {
			o.Exchange = "NYSE"
		}
	}
	if m := tickerRe.FindStringSubmatch(text); m != nil {
		o.Ticker = m[1]
	}
	return o
}
