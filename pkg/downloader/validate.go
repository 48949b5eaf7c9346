package downloader

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
)

const (
	minDocumentBytes = 500

	// viewer外壳可见文本很少
	viewerMaxTextChars = 2000

	// 费用表通常不超过这个长度
	feeTableMaxTextChars = 60_000
)

var (
	viewerMarkers = []string{"ixviewer", "ix?doc=", "inline xbrl viewer", "loadviewer"}
	feeKeywords   = regexp.MustCompile(`(?i)(calculation of (the )?(registration|filing) fee|filing fee tables?|maximum aggregate offering price|amount of registration fee|fee rate)`)
	s1BodyMarkers = regexp.MustCompile(`(?i)(prospectus summary|risk factors|use of proceeds)`)
)

// ValidateContent 拒绝iXBRL viewer外壳、S-1费用表和过小的文档
func ValidateContent(body []byte, form model.FilingType, name string) error {
	if len(body) < minDocumentBytes {
		return errs.Content("文档过小: "+name, nil)
	}

	text := visibleText(body)
	lower := strings.ToLower(string(body[:min(len(body), 20_000)]))

	for _, m := range viewerMarkers {
		if strings.Contains(lower, m) && len(text) < viewerMaxTextChars {
			return errs.Content("下载到iXBRL viewer页面: "+name, nil)
		}
	}

	if form.IsS1() && looksLikeFeeTable(text) {
		return errs.Content("下载到S-1费用表而不是注册说明书: "+name, nil)
	}

	return nil
}

func looksLikeFeeTable(text string) bool {
	hits := len(feeKeywords.FindAllStringIndex(text, -1))
	if hits == 0 {
		return false
	}
	if len(text) < feeTableMaxTextChars && !s1BodyMarkers.MatchString(text) {
		return true
	}
	return hits >= 3 && len(text) < feeTableMaxTextChars/4
}

// visibleText 去掉script/style后的文本
func visibleText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	doc.Find("script, style, head").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
