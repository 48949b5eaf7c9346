package edgar

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"FilingRadar/pkg/model"
)

// FeedEntry RSS中的一条申报
type FeedEntry struct {
	AccessionNumber string
	CIK             string
	CompanyName     string
	Form            string
	FilingDate      string // 2006-01-02
	Updated         time.Time
	Link            string
}

// BaseForm 去掉修订后缀的表格类型
func (e FeedEntry) BaseForm() string {
	return model.BaseForm(e.Form)
}

// 标题格式依次尝试，例如 "10-K - Apple Inc. (0000320193) (Filer)"
var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^([\w\-/ ]+?)\s+-\s+(.+?)\s*\((\d{1,10})\)(?:\s*\([^)]+\))*$`),
	regexp.MustCompile(`^([\w\-/ ]+?)\s+-\s+(.+?)\s*\((\d{1,10})\)`),
	regexp.MustCompile(`^([\w\-/ ]+?)\s+-\s+(.+?)$`),
}

var (
	linkCIKRe          = regexp.MustCompile(`CIK=(\d+)`)
	archiveCIKRe       = regexp.MustCompile(`/edgar/data/(\d+)/`)
	summaryCIKRe       = regexp.MustCompile(`CIK[:\s]+(\d+)`)
	linkAccessionRe    = regexp.MustCompile(`AccessionNumber=(\d{10}-\d{2}-\d{6})`)
	bareAccessionRe    = regexp.MustCompile(`(\d{10}-\d{2}-\d{6})`)
	summaryFiledRe     = regexp.MustCompile(`Filed:\s*(?:</b>)?\s*(\d{4}-\d{2}-\d{2})`)
	summaryAccessionRe = regexp.MustCompile(`AccNo:\s*(?:</b>)?\s*(\d{10}-\d{2}-\d{6})`)
)

// FeedURL atom订阅地址
func (c *Client) FeedURL(form string) string {
	q := url.Values{}
	q.Set("action", "getcurrent")
	q.Set("owner", "exclude")
	q.Set("output", "atom")
	q.Set("count", "100")
	q.Set("start", "0")
	q.Set("type", form)
	return strings.TrimRight(c.opts.BaseURL, "/") + "/cgi-bin/browse-edgar?" + q.Encode()
}

// RecentFilings 拉取某一表格类型的最新申报
func (c *Client) RecentFilings(ctx context.Context, form string) ([]FeedEntry, error) {
	body, err := c.Get(ctx, c.FeedURL(form))
	if err != nil {
		return nil, fmt.Errorf("获取%s RSS失败: %w", form, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("解析%s RSS失败: %w", form, err)
	}

	entries := make([]FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry, ok := ParseEntry(item)
		if !ok {
			c.logger.Debug("跳过无法解析的RSS条目", zap.String("title", item.Title))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FetchAll 按表格类型逐个拉取，保留回看窗口内的条目，去重后按时间倒序
func (c *Client) FetchAll(ctx context.Context, forms []string, lookback time.Duration, now time.Time) []FeedEntry {
	supported := make(map[string]bool, len(forms))
	for _, f := range forms {
		supported[model.BaseForm(f)] = true
	}

	cutoff := now.Add(-lookback)
	seen := make(map[string]bool)
	var out []FeedEntry

	for _, form := range forms {
		entries, err := c.RecentFilings(ctx, form)
		if err != nil {
			c.logger.Warn("拉取RSS失败", zap.String("form", form), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !e.Updated.IsZero() && e.Updated.Before(cutoff) {
				continue
			}
			if !supported[e.BaseForm()] {
				continue
			}
			if seen[e.AccessionNumber] {
				continue
			}
			seen[e.AccessionNumber] = true
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Updated.After(out[j].Updated)
	})
	return out
}

// ParseEntry 从atom条目中解析CIK、表格类型、accession和日期
func ParseEntry(item *gofeed.Item) (FeedEntry, bool) {
	if item == nil {
		return FeedEntry{}, false
	}
	entry := FeedEntry{Link: item.Link}
	title := strings.TrimSpace(item.Title)

	for _, re := range titlePatterns {
		m := re.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		entry.Form = strings.TrimSpace(m[1])
		entry.CompanyName = strings.TrimSpace(m[2])
		if len(m) > 3 {
			entry.CIK = m[3]
		}
		break
	}
	if entry.Form == "" && len(item.Categories) > 0 {
		entry.Form = item.Categories[0]
	}

	if entry.CIK == "" {
		entry.CIK = firstMatch(item.Link, linkCIKRe, archiveCIKRe)
	}
	if entry.CIK == "" {
		entry.CIK = firstMatch(item.Description, summaryCIKRe)
	}
	if entry.CIK != "" {
		entry.CIK = PadCIK(entry.CIK)
	}

	entry.AccessionNumber = firstMatch(item.Link, linkAccessionRe, bareAccessionRe)
	if entry.AccessionNumber == "" {
		entry.AccessionNumber = firstMatch(item.GUID, bareAccessionRe)
	}
	if entry.AccessionNumber == "" {
		entry.AccessionNumber = firstMatch(item.Description, summaryAccessionRe)
	}

	if item.UpdatedParsed != nil {
		entry.Updated = item.UpdatedParsed.UTC()
	} else if item.PublishedParsed != nil {
		entry.Updated = item.PublishedParsed.UTC()
	}

	entry.FilingDate = firstMatch(item.Description, summaryFiledRe)
	if entry.FilingDate == "" && !entry.Updated.IsZero() {
		entry.FilingDate = entry.Updated.Format("2006-01-02")
	}

	if entry.AccessionNumber == "" || entry.CIK == "" || entry.Form == "" {
		return entry, false
	}
	return entry, true
}

func firstMatch(s string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}
