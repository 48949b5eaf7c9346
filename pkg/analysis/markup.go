package analysis

import (
	"regexp"
	"strings"
)

// MarkupDensity 标记字符占正文的比例上限，超过时记录警告
const MarkupDensity = 0.15

// MarkupData 叙述中的智能标记，按类别去重并限量
type MarkupData struct {
	Numbers  []string `json:"numbers"`
	Concepts []string `json:"concepts"`
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
	Insights []string `json:"insights"`
}

// Empty 没有任何标记
func (m *MarkupData) Empty() bool {
	return len(m.Numbers)+len(m.Concepts)+len(m.Positive)+len(m.Negative)+len(m.Insights) == 0
}

var (
	conceptMarkup  = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	numberMarkup   = regexp.MustCompile(`\*([^*\n]+?)\*`)
	positiveMarkup = regexp.MustCompile(`\+\[([^\]\n]+)\]`)
	negativeMarkup = regexp.MustCompile(`-\[([^\]\n]+)\]`)
	insightMarkup  = regexp.MustCompile(`\[!([^\]\n]+)\]`)
)

type markupCategory struct {
	re    *regexp.Regexp
	limit int
	field func(*MarkupData) *[]string
}

// 顺序有意义：** 必须先于 * 匹配
var markupCategories = []markupCategory{
	{conceptMarkup, 10, func(m *MarkupData) *[]string { return &m.Concepts }},
	{numberMarkup, 10, func(m *MarkupData) *[]string { return &m.Numbers }},
	{positiveMarkup, 5, func(m *MarkupData) *[]string { return &m.Positive }},
	{negativeMarkup, 5, func(m *MarkupData) *[]string { return &m.Negative }},
	{insightMarkup, 3, func(m *MarkupData) *[]string { return &m.Insights }},
}

// ParseMarkup 提取 *数字* **概念** +[正面] -[负面] [!洞见]
func ParseMarkup(text string) MarkupData {
	m := MarkupData{
		Numbers:  []string{},
		Concepts: []string{},
		Positive: []string{},
		Negative: []string{},
		Insights: []string{},
	}

	rest := text
	for _, cat := range markupCategories {
		dst := cat.field(&m)
		seen := make(map[string]bool)
		for _, match := range cat.re.FindAllStringSubmatch(rest, -1) {
			v := strings.TrimSpace(match[1])
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			if len(*dst) < cat.limit {
				*dst = append(*dst, v)
			}
		}
		if cat.re == conceptMarkup {
			rest = conceptMarkup.ReplaceAllString(rest, " ")
		}
	}
	return m
}

// StripMarkup 去掉标记符号，保留内容
func StripMarkup(text string) string {
	text = conceptMarkup.ReplaceAllString(text, "$1")
	text = numberMarkup.ReplaceAllString(text, "$1")
	text = positiveMarkup.ReplaceAllString(text, "$1")
	text = negativeMarkup.ReplaceAllString(text, "$1")
	return insightMarkup.ReplaceAllString(text, "$1")
}

// markupRatio 标记内容字符数 / 正文字符数
func markupRatio(text string) float64 {
	plain := StripMarkup(text)
	if len(plain) == 0 {
		return 0
	}
	marked := 0
	rest := text
	for _, cat := range markupCategories {
		for _, match := range cat.re.FindAllStringSubmatch(rest, -1) {
			marked += len(match[1])
		}
		if cat.re == conceptMarkup {
			rest = conceptMarkup.ReplaceAllString(rest, " ")
		}
	}
	return float64(marked) / float64(len(plain))
}
