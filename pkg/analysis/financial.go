package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"FilingRadar/pkg/estimates"
)

type metricPattern struct {
	name     string
	patterns []*regexp.Regexp
}

const amountSuffix = `\s*[:=]\s*\$?([\d,]+(?:\.\d+)?)\s*(billion|million)?`

var financialMetrics = []metricPattern{
	{"revenue", []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:total\s+)?(?:net\s+)?revenues?` + amountSuffix),
		regexp.MustCompile(`(?i)(?:total\s+)?(?:net\s+)?sales` + amountSuffix),
	}},
	{"net_income", []*regexp.Regexp{
		regexp.MustCompile(`(?i)net\s+income` + amountSuffix),
		regexp.MustCompile(`(?i)net\s+earnings?` + amountSuffix),
	}},
	{"eps", []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:diluted\s+)?earnings?\s+per\s+share\s*[:=]\s*\$?(\d+(?:\.\d+)?)()`),
		regexp.MustCompile(`(?i)(?:diluted\s+)?eps\s*[:=]\s*\$?(\d+(?:\.\d+)?)()`),
	}},
	{"total_assets", []*regexp.Regexp{
		regexp.MustCompile(`(?i)total\s+assets` + amountSuffix),
	}},
	{"total_liabilities", []*regexp.Regexp{
		regexp.MustCompile(`(?i)total\s+liabilities` + amountSuffix),
	}},
	{"cash", []*regexp.Regexp{
		regexp.MustCompile(`(?i)cash\s+and\s+cash\s+equivalents` + amountSuffix),
	}},
	{"operating_cash_flow", []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:net\s+)?cash\s+(?:provided\s+by|from)\s+operating\s+activities` + amountSuffix),
	}},
}

// ExtractFinancialData 正则抽取常见财务指标，金额统一为百万美元，EPS为美元
func ExtractFinancialData(text string) map[string]string {
	out := make(map[string]string)
	thousand := decimal.NewFromInt(1000)
	for _, metric := range financialMetrics {
		for _, re := range metric.patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			raw := strings.ReplaceAll(m[1], ",", "")
			v, err := decimal.NewFromString(raw)
			if err != nil {
				continue
			}
			if metric.name == "eps" {
				out[metric.name] = "$" + raw
				break
			}
			if strings.EqualFold(m[2], "billion") {
				v = v.Mul(thousand)
			}
			out[metric.name] = "$" + v.String() + "M"
			break
		}
	}
	return out
}

// 8-K事件类型的关键词兜底，按顺序匹配
var eventKeywords = []struct {
	event    string
	keywords []string
}{
	{"Executive Changes", []string{"ceo", "cfo", "executive"}},
	{"Earnings Results", []string{"earnings", "results"}},
	{"Merger/Acquisition", []string{"acquisition", "merger"}},
	{"Dividend Announcement", []string{"dividend"}},
	{"Debt Issuance", []string{"debt", "notes", "bond"}},
}

// EventTypeFallback 没有Item时根据关键词推断事件类型
func EventTypeFallback(content string) string {
	lower := strings.ToLower(content)
	for _, ek := range eventKeywords {
		for _, kw := range ek.keywords {
			if strings.Contains(lower, kw) {
				return ek.event
			}
		}
	}
	return "Corporate Event"
}

var billion = decimal.NewFromInt(1_000_000_000)

// expectationsContext 注入10-Q提示词的分析师预期
func expectationsContext(est *estimates.Estimate) string {
	if !est.HasEstimate() {
		return ""
	}
	var parts []string
	if est.EPSEstimate.Valid {
		parts = append(parts, "EPS $"+est.EPSEstimate.Decimal.StringFixed(2))
	}
	if est.RevenueEstimate.Valid {
		parts = append(parts, "revenue $"+est.RevenueEstimate.Decimal.Div(billion).StringFixed(2)+" billion")
	}
	return "Analyst consensus for this quarter: " + strings.Join(parts, ", ") +
		". State clearly whether results beat or missed these expectations."
}

// ExpectationsComparison 预期与实际对比文本
func ExpectationsComparison(est *estimates.Estimate) string {
	if !est.HasEstimate() {
		return ""
	}
	var lines []string
	if est.EPSEstimate.Valid {
		line := "EPS estimate $" + est.EPSEstimate.Decimal.StringFixed(2)
		if est.EPSActual.Valid {
			line += ", actual $" + est.EPSActual.Decimal.StringFixed(2)
			if pct, ok := est.EPSSurprise(); ok {
				line += fmt.Sprintf(" (%s)", verdict(pct))
			}
		}
		lines = append(lines, line)
	}
	if est.RevenueEstimate.Valid {
		line := "Revenue estimate $" + est.RevenueEstimate.Decimal.Div(billion).StringFixed(2) + "B"
		if est.RevenueActual.Valid {
			line += ", actual $" + est.RevenueActual.Decimal.Div(billion).StringFixed(2) + "B"
			if pct, ok := est.RevenueSurprise(); ok {
				line += fmt.Sprintf(" (%s)", verdict(pct))
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func verdict(pct decimal.Decimal) string {
	switch {
	case pct.IsPositive():
		return "beat by " + pct.StringFixed(2) + "%"
	case pct.IsNegative():
		return "missed by " + pct.Abs().StringFixed(2) + "%"
	}
	return "in line"
}
