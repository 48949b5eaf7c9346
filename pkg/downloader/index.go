package downloader

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document 索引页中的一个文件
type Document struct {
	Sequence    int    `json:"sequence"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// Ext 小写扩展名
func (d Document) Ext() string {
	return strings.ToLower(path.Ext(d.Name))
}

// ParseIndex 解析 table.tableFile：Seq | Description | Document | Type | Size
// 没有文件表时退回到目录列表中的链接
func ParseIndex(html, baseURL string) []Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	base, _ := url.Parse(baseURL)
	var docs []Document

	doc.Find("table.tableFile tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		link := cells.Eq(2).Find("a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		d := Document{
			Description: strings.TrimSpace(cells.Eq(1).Text()),
			Name:        strings.TrimSpace(link.Text()),
			Type:        strings.TrimSpace(cells.Eq(3).Text()),
			URL:         resolveHref(base, href),
		}
		d.Sequence, _ = strconv.Atoi(strings.TrimSpace(cells.Eq(0).Text()))
		if cells.Length() > 4 {
			d.Size = parseSize(cells.Eq(4).Text())
		}
		// iXBRL标记的文件名后会跟 " iXBRL"
		if f := strings.Fields(d.Name); len(f) > 0 {
			d.Name = f[0]
		}
		if d.Name == "" {
			d.Name = path.Base(d.URL)
		}
		docs = append(docs, d)
	})

	if len(docs) > 0 {
		return docs
	}

	// 目录列表
	prefix := ""
	if base != nil {
		dir := base.Path
		if !strings.HasSuffix(dir, "/") {
			dir = path.Dir(dir)
		}
		prefix = base.Scheme + "://" + base.Host + strings.TrimRight(dir, "/")
	}
	doc.Find("a[href]").Each(func(i int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolveHref(base, href)
		name := path.Base(abs)
		if name == "" || strings.HasSuffix(abs, "/") || !strings.Contains(name, ".") {
			return
		}
		if prefix != "" && !strings.HasPrefix(abs, prefix+"/") {
			return
		}
		docs = append(docs, Document{Sequence: i + 1, Name: name, URL: abs})
	})
	return docs
}

// resolveHref 转换为绝对地址，iXBRL viewer链接还原为原始文件
func resolveHref(base *url.URL, href string) string {
	href = ResolveIXBRLLink(strings.TrimSpace(href))
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// ResolveIXBRLLink /ix?doc=/Archives/... -> /Archives/...
func ResolveIXBRLLink(href string) string {
	i := strings.Index(href, "ix?doc=")
	if i < 0 {
		return href
	}
	target := href[i+len("ix?doc="):]
	if j := strings.Index(target, "&"); j >= 0 {
		target = target[:j]
	}
	if unescaped, err := url.QueryUnescape(target); err == nil {
		target = unescaped
	}
	if !strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "http") {
		target = "/" + target
	}
	return target
}

func parseSize(s string) int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	n, _ := strconv.ParseInt(digits, 10, 64)
	return n
}
