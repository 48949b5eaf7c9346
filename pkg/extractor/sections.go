package extractor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	itemMaxChars    = 10_000
	itemMinChars    = 50
	tenKMaxChars    = 20_000
	tenQMaxChars    = 25_000
	annualMinChars  = 500
	s1MaxChars      = 15_000
	s1MinChars      = 200
	tocWindow       = 8_000
	minS1Keywords   = 2
	maxHeadingChars = 100
)

// Item 8-K的一个Item块
type Item struct {
	Number  string `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

var (
	itemBlock      = regexp.MustCompile(`(?i)(ITEM\s+(\d+\.\d+)[^\n]*)`)
	nextItemHeader = regexp.MustCompile(`(?im)^\s*ITEM\s+\d+[A-Z]?[.\s]`)
)

// splitItemBlocks 每个 "Item N.N" 到下一个Item或签名部分为止
func splitItemBlocks(text string) []Item {
	matches := itemBlock.FindAllStringSubmatchIndex(text, -1)
	var items []Item
	for i, m := range matches {
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		} else if j := strings.Index(text[start:], "SIGNATURE"); j >= 0 {
			end = start + j
		}
		if end-start > itemMaxChars {
			end = start + len(truncate(text[start:], itemMaxChars))
		}

		content := strings.TrimSpace(text[start:end])
		if len(content) <= itemMinChars {
			continue
		}
		items = append(items, Item{
			Number:  text[m[4]:m[5]],
			Title:   strings.TrimSpace(text[m[2]:m[3]]),
			Content: content,
		})
	}
	return items
}

// sectionSpec 一个命名章节及其起始标题
type sectionSpec struct {
	name   string
	starts []*regexp.Regexp
}

func bounded(name string, patterns ...string) sectionSpec {
	s := sectionSpec{name: name}
	for _, p := range patterns {
		s.starts = append(s.starts, regexp.MustCompile(p))
	}
	return s
}

var tenKSections = []sectionSpec{
	bounded("business", `(?i)ITEM\s+1\.?\s*BUSINESS`),
	bounded("risk_factors", `(?i)ITEM\s+1A\.?\s*RISK\s+FACTORS`),
	bounded("mda", `(?i)ITEM\s+7\.?\s*MANAGEMENT.S\s+DISCUSSION`),
	bounded("financial_statements", `(?i)ITEM\s+8\.?\s*FINANCIAL\s+STATEMENTS`),
}

var tenQSections = []sectionSpec{
	bounded("financial_statements",
		`(?i)ITEM\s+1\.?\s*(CONDENSED\s+)?(CONSOLIDATED\s+)?FINANCIAL\s+STATEMENTS`,
		`(?i)CONDENSED\s+CONSOLIDATED\s+(STATEMENTS|BALANCE\s+SHEETS?)`),
	bounded("mda", `(?i)MANAGEMENT.S\s+DISCUSSION\s+AND\s+ANALYSIS`),
	bounded("risk_factors", `(?i)ITEM\s+1A\.?\s*RISK\s+FACTORS`),
}

// extractBounded 章节从标题开始，到下一个 "ITEM n" 标题为止
// 目录中的标题后面内容太短，会被跳过
func extractBounded(text string, specs []sectionSpec, maxChars, minChars int) (map[string]string, []string) {
	sections := make(map[string]string)
	var order []string
	for _, s := range specs {
		if body, ok := firstBoundedMatch(text, s.starts, maxChars, minChars); ok {
			sections[s.name] = body
			order = append(order, s.name)
		}
	}
	return sections, order
}

func firstBoundedMatch(text string, starts []*regexp.Regexp, maxChars, minChars int) (string, bool) {
	for _, re := range starts {
		for _, m := range re.FindAllStringIndex(text, -1) {
			end := len(text)
			if loc := nextItemHeader.FindStringIndex(text[m[1]:]); loc != nil {
				end = m[1] + loc[0]
			}
			body := strings.TrimSpace(truncate(text[m[0]:end], maxChars))
			if len(body) > minChars {
				return body, true
			}
		}
	}
	return "", false
}

// criticalSection S-1关键章节，至少命中两个关键词才认为找对了位置
type criticalSection struct {
	name     string
	heading  *regexp.Regexp
	keywords []string
}

func critical(name, heading string, keywords ...string) criticalSection {
	return criticalSection{
		name:     name,
		heading:  regexp.MustCompile(`(?im)^\s*(` + heading + `)\s*$`),
		keywords: keywords,
	}
}

var s1Critical = []criticalSection{
	critical("prospectus_summary", `PROSPECTUS\s+SUMMARY|SUMMARY`, "offering", "our company", "overview", "shares", "business"),
	critical("risk_factors", `RISK\s+FACTORS`, "risk", "adversely", "could", "may not", "our business"),
	critical("use_of_proceeds", `USE\s+OF\s+PROCEEDS`, "proceeds", "net proceeds", "offering", "intend to use"),
	critical("business", `(OUR\s+)?BUSINESS`, "customers", "products", "market", "platform", "employees"),
	critical("mda", `MANAGEMENT.S\s+DISCUSSION\s+AND\s+ANALYSIS.*`, "revenue", "results of operations", "liquidity", "compared to"),
	critical("financial_statements", `(INDEX\s+TO\s+)?(CONSOLIDATED\s+)?FINANCIAL\s+STATEMENTS`, "balance sheet", "total assets", "net loss", "cash flows"),
	critical("management", `(EXECUTIVE\s+OFFICERS\s+AND\s+DIRECTORS|MANAGEMENT)`, "director", "officer", "age", "served"),
	critical("executive_compensation", `EXECUTIVE\s+COMPENSATION`, "salary", "bonus", "compensation", "equity"),
	critical("principal_stockholders", `PRINCIPAL\s+(AND\s+SELLING\s+)?(STOCKHOLDERS|SHAREHOLDERS)`, "beneficial", "ownership", "shares", "percent"),
	critical("offering_price", `DETERMINATION\s+OF\s+(THE\s+)?OFFERING\s+PRICE|OFFERING\s+PRICE`, "price", "underwriters", "factors", "negotiat"),
}

// s1Order 拼接主内容时的优先级
var s1Order = []string{
	"prospectus_summary", "business", "risk_factors", "use_of_proceeds", "mda",
	"offering_price", "financial_statements", "management", "executive_compensation", "principal_stockholders",
}

var (
	tocHeading   = regexp.MustCompile(`(?i)TABLE\s+OF\s+CONTENTS`)
	pageSuffix   = regexp.MustCompile(`(\s*\.{2,}\s*|\s+)([ivxlc]+|\d+|[A-Z]-\d+)$`)
	hasLetters   = regexp.MustCompile(`[A-Za-z]{3,}`)
	pageOnlyLine = regexp.MustCompile(`(?i)^(page|\d+|[ivxlc]+)$`)
	slugChars    = regexp.MustCompile(`[^a-z0-9]+`)
)

// extractS1 目录、关键章节、样式三种方式合并，目录优先
func extractS1(text, html string) (map[string]string, []string) {
	sections := make(map[string]string)
	var order []string
	add := func(name, body string) {
		if _, ok := sections[name]; ok || body == "" {
			return
		}
		sections[name] = body
		order = append(order, name)
	}

	for _, s := range s1TOCSections(text) {
		add(s.name, s.body)
	}
	for _, s := range s1CriticalSections(text) {
		add(s.name, s.body)
	}
	if len(sections) == 0 && html != "" {
		for _, s := range s1StyledSections(text, html) {
			add(s.name, s.body)
		}
	}

	return sections, prioritize(order, s1Order)
}

type namedBody struct {
	name string
	body string
	pos  int
}

// s1TOCSections 解析目录标题，在目录之后找到正文中的同名标题并切分
func s1TOCSections(text string) []namedBody {
	loc := tocHeading.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	block := truncate(text[loc[1]:], tocWindow)

	var headings []string
	tocEnd := loc[1]
	offset := loc[1]
	for _, line := range strings.Split(block, "\n") {
		lineEnd := offset + len(line) + 1
		offset = lineEnd
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}
		if len(l) > 200 && len(headings) >= 3 {
			break
		}
		l = strings.TrimSpace(pageSuffix.ReplaceAllString(l, ""))
		if len(l) < 3 || len(l) > maxHeadingChars || !hasLetters.MatchString(l) || pageOnlyLine.MatchString(l) {
			continue
		}
		if tocHeading.MatchString(l) {
			continue
		}
		// 标题再次出现说明已经进入正文
		if containsFold(headings, l) {
			break
		}
		headings = append(headings, l)
		tocEnd = lineEnd
	}
	if len(headings) < 2 || tocEnd >= len(text) {
		return nil
	}

	var found []namedBody
	seen := make(map[string]bool)
	for _, h := range headings {
		re, err := regexp.Compile(`(?im)^\s*` + regexp.QuoteMeta(h) + `\s*$`)
		if err != nil {
			continue
		}
		m := re.FindStringIndex(text[tocEnd:])
		if m == nil {
			continue
		}
		name := canonicalSectionName(h)
		if seen[name] {
			continue
		}
		seen[name] = true
		found = append(found, namedBody{name: name, pos: tocEnd + m[0]})
	}

	return sliceBetween(text, found)
}

// sliceBetween 按位置排序，每段到下一个标题为止
func sliceBetween(text string, found []namedBody) []namedBody {
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	var out []namedBody
	for i, f := range found {
		end := len(text)
		if i+1 < len(found) {
			end = found[i+1].pos
		}
		body := strings.TrimSpace(truncate(text[f.pos:end], s1MaxChars))
		if len(body) <= s1MinChars {
			continue
		}
		f.body = body
		out = append(out, f)
	}
	return out
}

// s1CriticalSections 关键章节表逐个匹配，正文需要出现至少两个关键词
func s1CriticalSections(text string) []namedBody {
	var all []int
	for _, c := range s1Critical {
		for _, m := range c.heading.FindAllStringIndex(text, -1) {
			all = append(all, m[0])
		}
	}
	sort.Ints(all)

	nextHeading := func(after int) int {
		i := sort.SearchInts(all, after+1)
		if i < len(all) {
			return all[i]
		}
		return len(text)
	}

	var out []namedBody
	for _, c := range s1Critical {
		for _, m := range c.heading.FindAllStringIndex(text, -1) {
			body := strings.TrimSpace(truncate(text[m[0]:nextHeading(m[0])], s1MaxChars))
			if len(body) <= s1MinChars || keywordHits(body, c.keywords) < minS1Keywords {
				continue
			}
			out = append(out, namedBody{name: c.name, body: body, pos: m[0]})
			break
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func keywordHits(body string, keywords []string) int {
	lower := strings.ToLower(body)
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

var (
	boldStyle = regexp.MustCompile(`(?i)font-weight\s*:\s*(bold|[6-9]00)`)
	fontSize  = regexp.MustCompile(`(?i)font-size\s*:\s*(\d+(\.\d+)?)\s*pt`)
)

// s1StyledSections 加粗或大字号的短文本视为标题
func s1StyledSections(text, html string) []namedBody {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var headings []string
	seen := make(map[string]bool)
	doc.Find("b, strong, [style]").Each(func(_ int, s *goquery.Selection) {
		if !looksStyledHeading(s) {
			return
		}
		h := strings.Join(strings.Fields(s.Text()), " ")
		if len(h) < 4 || len(h) > maxHeadingChars || !hasLetters.MatchString(h) || seen[h] {
			return
		}
		seen[h] = true
		headings = append(headings, h)
	})

	var found []namedBody
	cursor := 0
	for _, h := range headings {
		i := strings.Index(text[cursor:], h)
		if i < 0 {
			continue
		}
		pos := cursor + i
		found = append(found, namedBody{name: canonicalSectionName(h), pos: pos})
		cursor = pos + len(h)
	}

	out := sliceBetween(text, found)
	// 同名只保留第一段
	dedup := out[:0]
	names := make(map[string]bool)
	for _, s := range out {
		if names[s.name] {
			continue
		}
		names[s.name] = true
		dedup = append(dedup, s)
	}
	return dedup
}

func looksStyledHeading(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "b", "strong":
		return true
	}
	style, _ := s.Attr("style")
	if boldStyle.MatchString(style) {
		return true
	}
	if m := fontSize.FindStringSubmatch(style); m != nil {
		if size, err := strconv.ParseFloat(m[1], 64); err == nil && size >= 14 {
			return true
		}
	}
	return false
}

// canonicalSectionName 能对上关键章节的用统一名字
func canonicalSectionName(heading string) string {
	h := strings.TrimSpace(heading)
	for _, c := range s1Critical {
		if c.heading.MatchString(h) {
			return c.name
		}
	}
	slug := strings.Trim(slugChars.ReplaceAllString(strings.ToLower(h), "_"), "_")
	if slug == "" {
		slug = "section"
	}
	return slug
}

// prioritize 按给定优先级排序，其他章节保持原顺序排在后面
func prioritize(order, priority []string) []string {
	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		rank[p] = i
	}
	out := append([]string(nil), order...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, okI := rank[out[i]]
		rj, okJ := rank[out[j]]
		switch {
		case okI && okJ:
			return ri < rj
		case okI:
			return true
		default:
			return false
		}
	})
	return out
}
