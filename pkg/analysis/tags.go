package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"FilingRadar/pkg/model"
)

// tagRule 所有all关键词出现、any至少一个出现、none都不出现时命中
type tagRule struct {
	tag  string
	all  []string
	any  []string
	none []string
	// 在markup的正负面与洞见中匹配，而不是全文
	markup bool
}

type tagTable struct {
	rules    []tagRule
	fallback string
	max      int
}

var tenKTags = tagTable{
	rules: []tagRule{
		{tag: "#RecordRevenue", all: []string{"record", "revenue"}},
		{tag: "#Growth", any: []string{"growth"}},
		{tag: "#Challenges", any: []string{"decline", "decrease"}},
		{tag: "#ChinaChallenges", all: []string{"china"}, any: []string{"challenge", "challenges", "headwind", "headwinds"}},
		{tag: "#ChinaGrowth", all: []string{"china"}, none: []string{"challenge", "challenges", "headwind", "headwinds"}},
		{tag: "#IndiaGrowth", any: []string{"india"}},
		{tag: "#AIInvestment", any: []string{"ai", "artificial intelligence"}},
		{tag: "#M&A", any: []string{"acquisition", "acquisitions", "m&a"}},
		{tag: "#Dividend", any: []string{"dividend", "dividends"}},
		{tag: "#Buyback", any: []string{"buyback", "buybacks", "repurchase", "repurchases"}},
	},
	fallback: "#AnnualReport",
	max:      5,
}

var tenQTags = tagTable{
	rules: []tagRule{
		{tag: "#BeatExpectations", any: []string{"beat", "beats", "exceeded", "topped"}, markup: true},
		{tag: "#BeatExpectations", all: []string{"beat", "expectations"}},
		{tag: "#MissedExpectations", any: []string{"miss", "missed", "fell short"}, markup: true},
		{tag: "#MissedExpectations", all: []string{"missed", "expectations"}},
		{tag: "#MarginExpansion", all: []string{"margin"}, any: []string{"expansion", "expanded", "improved"}},
		{tag: "#MarginPressure", all: []string{"margin"}, any: []string{"pressure", "compression", "contracted", "declined"}},
		{tag: "#GuidanceUp", all: []string{"guidance"}, any: []string{"raise", "raised", "increased"}},
		{tag: "#GuidanceCut", all: []string{"guidance"}, any: []string{"lowered", "cut", "reduced"}},
		{tag: "#CloudGrowth", all: []string{"cloud", "growth"}},
		{tag: "#AIDemand", all: []string{"ai", "demand"}},
		{tag: "#Dividend", any: []string{"dividend"}},
		{tag: "#Buyback", any: []string{"buyback", "repurchase"}},
	},
	fallback: "#QuarterlyResults",
	max:      5,
}

var eightKTags = tagTable{
	rules: []tagRule{
		{tag: "#CEOChange", any: []string{"ceo", "chief executive officer"}},
		{tag: "#CFOChange", any: []string{"cfo", "chief financial officer"}},
		{tag: "#DebtOffering", all: []string{"notes"}, any: []string{"issuance", "issued", "offering"}},
		{tag: "#Dividend", any: []string{"dividend"}},
		{tag: "#Buyback", any: []string{"buyback", "repurchase program"}},
		{tag: "#InternalPromotion", all: []string{"promotion"}},
	},
	fallback: "#CorporateUpdate",
	max:      4,
}

var s1Tags = tagTable{
	rules: []tagRule{
		{tag: "#SocialMedia", any: []string{"social media"}},
		{tag: "#BiotechIPO", any: []string{"biotech", "biotechnology", "clinical", "therapeutics"}},
		{tag: "#FintechIPO", any: []string{"fintech", "payments", "lending platform"}},
		{tag: "#TechIPO", any: []string{"software", "saas", "technology platform", "cloud"}},
	},
	max: 4,
}

var genericTags = tagTable{
	rules: []tagRule{
		{tag: "#Revenue", any: []string{"revenue"}},
		{tag: "#Earnings", any: []string{"earnings"}},
		{tag: "#Growth", any: []string{"growth"}},
		{tag: "#M&A", any: []string{"acquisition"}},
		{tag: "#Dividend", any: []string{"dividend"}},
		{tag: "#Buyback", any: []string{"buyback"}},
		{tag: "#Guidance", any: []string{"guidance"}},
		{tag: "#Restructuring", any: []string{"restructuring"}},
	},
	fallback: "#Update",
	max:      5,
}

// itemTags 8-K Item对应的事件标签
var itemTags = map[string]string{
	"1.01": "#MaterialAgreement",
	"1.02": "#AgreementTermination",
	"1.03": "#Bankruptcy",
	"2.01": "#M&A",
	"2.02": "#EarningsUpdate",
	"2.03": "#DebtIssuance",
	"3.01": "#Delisting",
	"4.01": "#AuditorChange",
	"5.01": "#ControlChange",
	"5.02": "#ExecutiveChange",
	"5.03": "#Governance",
	"5.07": "#ShareholderVote",
}

var typeTags = map[model.FilingType]string{
	model.FilingType10K: "#10K",
	model.FilingType10Q: "#10Q",
	model.FilingType8K:  "#8K",
	model.FilingTypeS1:  "#S1",
	model.FilingTypeS1A: "#S1",
}

var (
	wordPatterns = map[string]*regexp.Regexp{}
	amountRe     = regexp.MustCompile(`(?i)\$\s?([\d,]+(?:\.\d+)?)\s*(billion|million)`)
	tagSanitizer = strings.NewReplacer("-", "", " ", "", "/", "")
)

func init() {
	for _, table := range []tagTable{tenKTags, tenQTags, eightKTags, s1Tags, genericTags} {
		for _, r := range table.rules {
			for _, kw := range lo.Flatten([][]string{r.all, r.any, r.none}) {
				if _, ok := wordPatterns[kw]; !ok {
					wordPatterns[kw] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
				}
			}
		}
	}
}

func hasWord(text, kw string) bool {
	return wordPatterns[kw].MatchString(text)
}

func (r tagRule) match(narrative, markup string) bool {
	text := narrative
	if r.markup {
		text = markup
	}
	if text == "" {
		return false
	}
	for _, kw := range r.all {
		if !hasWord(text, kw) {
			return false
		}
	}
	if len(r.any) > 0 && !lo.ContainsBy(r.any, func(kw string) bool { return hasWord(text, kw) }) {
		return false
	}
	return !lo.ContainsBy(r.none, func(kw string) bool { return hasWord(text, kw) })
}

// TagInput 标签推导的输入
type TagInput struct {
	FilingType  model.FilingType
	Narrative   string
	Markup      MarkupData
	ItemNumbers []string
	Exchange    string
}

// DeriveTags 规则表推导标签，去重后总包含一个表格类型标签
func DeriveTags(in TagInput) []string {
	table := genericTags
	var lead []string

	switch {
	case in.FilingType == model.FilingType10K:
		table = tenKTags
	case in.FilingType == model.FilingType10Q:
		table = tenQTags
	case in.FilingType == model.FilingType8K:
		table = eightKTags
		for _, item := range in.ItemNumbers {
			if tag, ok := itemTags[item]; ok {
				lead = append(lead, tag)
			}
		}
		if tag := largestAmountTag(in.Narrative); tag != "" {
			lead = append(lead, tag)
		}
	case in.FilingType.IsS1():
		table = s1Tags
		lead = append(lead, "#IPO")
		if ex := exchangeTag(in.Exchange, in.Narrative); ex != "" {
			lead = append(lead, ex)
		}
	}

	markupText := strings.Join(lo.Flatten([][]string{in.Markup.Positive, in.Markup.Negative, in.Markup.Insights}), "\n")
	matched := lo.FilterMap(table.rules, func(r tagRule, _ int) (string, bool) {
		return r.tag, r.match(in.Narrative, markupText)
	})

	tags := lo.Uniq(append(lead, matched...))
	if len(tags) == 0 && table.fallback != "" {
		tags = []string{table.fallback}
	}

	typeTag, ok := typeTags[in.FilingType]
	if !ok {
		typeTag = "#" + tagSanitizer.Replace(string(in.FilingType))
		if typeTag == "#" {
			typeTag = "#Filing"
		}
	}
	tags = lo.Without(tags, typeTag)
	if len(tags) > table.max-1 {
		tags = tags[:table.max-1]
	}
	return append(tags, typeTag)
}

func exchangeTag(exchange, narrative string) string {
	text := strings.ToLower(exchange + " " + narrative)
	switch {
	case strings.Contains(text, "nasdaq"):
		return "#NASDAQListing"
	case strings.Contains(text, "nyse"), strings.Contains(text, "new york stock exchange"):
		return "#NYSEListing"
	}
	return ""
}

// largestAmountTag 叙述中最大的金额，如 #$2.5B
func largestAmountTag(narrative string) string {
	var (
		best    decimal.Decimal
		bestTag string
	)
	thousand := decimal.NewFromInt(1000)
	for _, m := range amountRe.FindAllStringSubmatch(narrative, -1) {
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		unit := "M"
		if strings.EqualFold(m[2], "billion") {
			v = v.Mul(thousand)
			unit = "B"
		}
		if bestTag == "" || v.GreaterThan(best) {
			best = v
			bestTag = fmt.Sprintf("#$%s%s", raw, unit)
		}
	}
	return bestTag
}
