package downloader

import (
	"regexp"
	"sort"
	"strings"

	"FilingRadar/pkg/model"
)

// Field 评分规则匹配的字段
type Field int

const (
	FieldName Field = iota
	FieldDescription
	FieldType
	FieldAny
)

// ScoreRule 一条评分规则：字段匹配则加权
type ScoreRule struct {
	Field   Field
	Pattern *regexp.Regexp
	Weight  int
}

func (r ScoreRule) match(d Document) bool {
	switch r.Field {
	case FieldName:
		return r.Pattern.MatchString(d.Name)
	case FieldDescription:
		return r.Pattern.MatchString(d.Description)
	case FieldType:
		return r.Pattern.MatchString(d.Type)
	default:
		return r.Pattern.MatchString(d.Name) || r.Pattern.MatchString(d.Description) || r.Pattern.MatchString(d.Type)
	}
}

// ScoreTable 规则表
type ScoreTable []ScoreRule

// Score 累加所有命中规则的权重
func (t ScoreTable) Score(d Document) int {
	total := 0
	for _, r := range t {
		if r.match(d) {
			total += r.Weight
		}
	}
	return total
}

func rule(f Field, pattern string, weight int) ScoreRule {
	return ScoreRule{Field: f, Pattern: regexp.MustCompile(pattern), Weight: weight}
}

// generalRules 所有表格类型共用
var generalRules = ScoreTable{
	rule(FieldName, `(?i)\.html?$`, 15),
	rule(FieldName, `(?i)\.txt$`, 5),
	rule(FieldType, `(?i)^EX-`, -80),
	rule(FieldType, `(?i)^(GRAPHIC|XML|ZIP|JSON|EXCEL|PDF)$`, -100),
	rule(FieldType, `(?i)^EX-101`, -100),
	rule(FieldName, `(?i)\.(jpe?g|gif|png|pdf|xml|xsd|json|zip|xlsx|css|js)$`, -100),
	rule(FieldName, `(?i)^R\d+\.htm$`, -100),
	rule(FieldName, `(?i)FilingSummary`, -100),
	rule(FieldDescription, `(?i)complete submission text file`, -30),
	rule(FieldName, `(?i)(ex-?\d+|exhibit)`, -20),
}

// s1Rules S-1主文档容易与费用表附件混淆
var s1Rules = ScoreTable{
	rule(FieldDescription, `(?i)\bS-1(/A)?\b`, 30),
	rule(FieldDescription, `(?i)registration\s+statement`, 25),
	rule(FieldDescription, `(?i)prospectus`, 20),
	rule(FieldName, `(?i)s-?1`, 15),
	rule(FieldAny, `(?i)ex-?filing\s*fees?`, -200),
	rule(FieldAny, `(?i)filing\s+fee`, -200),
	rule(FieldAny, `(?i)fee\s+table`, -200),
	rule(FieldAny, `(?i)\bex-?107\b`, -200),
	rule(FieldAny, `(?i)calculation\s+of\s+(the\s+)?(registration|filing)\s+fee`, -200),
}

var feePattern = regexp.MustCompile(`(?i)(ex-?filing\s*fees?|filing\s+fee|fee\s+table|\bex-?107\b|calculation\s+of\s+(the\s+)?(registration|filing)\s+fee)`)

// IsFeeTable 费用表附件
func IsFeeTable(d Document) bool {
	return feePattern.MatchString(d.Name) || feePattern.MatchString(d.Description) || feePattern.MatchString(d.Type)
}

// ScoreDocument 文档作为主文档的得分
func ScoreDocument(d Document, form model.FilingType) int {
	score := generalRules.Score(d)

	if strings.EqualFold(model.BaseForm(d.Type), model.BaseForm(string(form))) {
		score += 100
	}
	if d.Sequence == 1 {
		score += 20
	}
	if form.IsS1() {
		score += s1Rules.Score(d)
		if d.Size > 500_000 {
			score += 10
		}
	}
	return score
}

type scored struct {
	doc   Document
	score int
}

// RankPrimary 按得分排序的主文档候选，S-1排除费用表，分数相同时取较大的文件
func RankPrimary(docs []Document, form model.FilingType) []Document {
	var candidates []scored
	for _, d := range docs {
		if form.IsS1() && IsFeeTable(d) {
			continue
		}
		s := ScoreDocument(d, form)
		if s <= 0 {
			continue
		}
		candidates = append(candidates, scored{doc: d, score: s})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.Size > candidates[j].doc.Size
	})

	out := make([]Document, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc
	}
	return out
}

// SelectPrimary 得分最高的候选
func SelectPrimary(docs []Document, form model.FilingType) (Document, bool) {
	ranked := RankPrimary(docs, form)
	if len(ranked) == 0 {
		return Document{}, false
	}
	return ranked[0], true
}

// ExhibitRule 8-K附件类别：优先级与大小上限
type ExhibitRule struct {
	Category string
	Pattern  *regexp.Regexp
	Priority int
	MaxSize  int64
}

// 附件类别
const (
	CategoryPressRelease     = "press_release"
	CategoryMaterialContract = "material_contract"
	CategoryCompensation     = "compensation"
)

// exhibitRules 按优先级从高到低
var exhibitRules = []ExhibitRule{
	{Category: CategoryPressRelease, Pattern: regexp.MustCompile(`(?i)^EX-99(\.\d+)?$`), Priority: 3, MaxSize: 5 << 20},
	{Category: CategoryMaterialContract, Pattern: regexp.MustCompile(`(?i)^EX-10\.[1-9]$`), Priority: 2, MaxSize: 2 << 20},
	{Category: CategoryCompensation, Pattern: regexp.MustCompile(`(?i)^EX-10\.[1-9]\d+$`), Priority: 1, MaxSize: 1 << 20},
}

var ex99NamePattern = regexp.MustCompile(`(?i)(ex-?99|exhibit-?99|dex99)`)

// Exhibit 选中的附件
type Exhibit struct {
	Document
	Category string `json:"category"`
	Priority int    `json:"priority"`
}

func classifyExhibit(d Document) (ExhibitRule, bool) {
	typ := strings.TrimSpace(d.Type)
	for _, r := range exhibitRules {
		if r.Pattern.MatchString(typ) {
			return r, true
		}
	}
	if typ == "" && ex99NamePattern.MatchString(d.Name) {
		return exhibitRules[0], true
	}
	return ExhibitRule{}, false
}

// SelectExhibits 按优先级选取附件，超过类别大小上限的跳过
func SelectExhibits(docs []Document, max int) []Exhibit {
	var out []Exhibit
	for _, d := range docs {
		r, ok := classifyExhibit(d)
		if !ok {
			continue
		}
		if d.Size > 0 && d.Size > r.MaxSize {
			continue
		}
		ext := d.Ext()
		if ext != ".htm" && ext != ".html" && ext != ".txt" {
			continue
		}
		out = append(out, Exhibit{Document: d, Category: r.Category, Priority: r.Priority})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Sequence < out[j].Sequence
	})

	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
