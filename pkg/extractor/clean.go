package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/k3a/html2text"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	ruleRuns     = regexp.MustCompile(`[_\-=]{4,}`)
	spaceRuns    = regexp.MustCompile(`[ \t\x{00a0}\x{2009}\x{202f}]+`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)

	htmlMarker     = regexp.MustCompile(`(?i)<(html|body|div|table|p|font|span)[\s>]`)
	displayNone    = regexp.MustCompile(`(?i)display\s*:\s*none`)
	blockElements  = "p, div, tr, li, h1, h2, h3, h4, h5, h6, table, title, center"
	removeElements = "script, style, head, link, meta, noscript"
)

// CleanText 合并空白、去掉控制字符和分隔线，保留段落换行
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = controlChars.ReplaceAllString(s, "")
	s = ruleRuns.ReplaceAllString(s, "")
	s = spaceRuns.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// LooksLikeHTML 内容中有常见HTML标签
func LooksLikeHTML(content string) bool {
	head := content
	if len(head) > 5000 {
		head = head[:5000]
	}
	return htmlMarker.MatchString(head)
}

// IsIXBRL 内联XBRL文档
func IsIXBRL(content string) bool {
	head := content
	if len(head) > 200_000 {
		head = head[:200_000]
	}
	lower := strings.ToLower(head)
	return strings.Contains(lower, "<ix:") || strings.Contains(lower, "inline xbrl")
}

// StripIXBRL 删除ix:header和隐藏块，ix:*标签只保留其中文本
func StripIXBRL(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "ix:header" {
			s.Remove()
			return
		}
		if style, ok := s.Attr("style"); ok && displayNone.MatchString(style) {
			s.Remove()
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if !strings.HasPrefix(goquery.NodeName(s), "ix:") {
			return
		}
		if s.Contents().Length() == 0 {
			s.Remove()
			return
		}
		s.Contents().Unwrap()
	})

	out, err := doc.Html()
	if err != nil {
		return html
	}
	return out
}

// HTMLToText 转为纯文本，块级元素之间保留换行
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find(removeElements).Remove()
		doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
			s.AfterHtml("<br/>")
		})
		if h, err := doc.Html(); err == nil {
			html = h
		}
	}
	return CleanText(html2text.HTML2Text(html))
}

// stripSECHeader 去掉完整提交文本的 SEC-HEADER
func stripSECHeader(content string) string {
	if i := strings.Index(content, "</SEC-HEADER>"); i >= 0 {
		return content[i+len("</SEC-HEADER>"):]
	}
	return content
}

// firstDocument 完整提交文本中第一个 <DOCUMENT> 的 <TEXT> 部分
func firstDocument(content string) string {
	start := strings.Index(content, "<DOCUMENT>")
	if start < 0 {
		return content
	}
	doc := content[start:]
	if end := strings.Index(doc, "</DOCUMENT>"); end >= 0 {
		doc = doc[:end]
	}
	if t := strings.Index(doc, "<TEXT>"); t >= 0 {
		doc = doc[t+len("<TEXT>"):]
		if e := strings.Index(doc, "</TEXT>"); e >= 0 {
			doc = doc[:e]
		}
	}
	return doc
}

// truncate 按字节截断，不切断UTF-8字符
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
