package extractor

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const minParagraphChars = 80

var (
	businessVocabulary = regexp.MustCompile(`(?i)\b(revenues?|net (income|loss)|earnings|margins?|growth|customers?|products?|operating|cash flows?|guidance|outlook|quarter|fiscal|sales|profit|acquisitions?|dividends?|results|demand|backlog|subscribers?|segments?)\b`)
	currencyFigure     = regexp.MustCompile(`\$[\d,.]+`)
	percentFigure      = regexp.MustCompile(`\d+(\.\d+)?\s?%`)
	legalBoilerplate   = regexp.MustCompile(`(?i)(forward-looking statements|pursuant to|incorporated (herein )?by reference|safe harbor|securities exchange act|hereunto duly authorized|indicate by check mark|check the appropriate box|emerging growth company)`)
	paragraphBreak     = regexp.MustCompile(`\n\s*\n`)
)

type scoredParagraph struct {
	index int
	text  string
	score float64
}

// KeywordDensityContent 按财务词汇密度挑选段落，保持原文顺序，总长不超过limit
func KeywordDensityContent(text string, limit int) string {
	paragraphs := paragraphBreak.Split(text, -1)
	if len(paragraphs) < 3 {
		paragraphs = strings.Split(text, "\n")
	}

	var scored []scoredParagraph
	for i, p := range paragraphs {
		p = strings.TrimSpace(p)
		if len(p) < minParagraphChars {
			continue
		}
		if s := paragraphScore(p); s > 0 {
			scored = append(scored, scoredParagraph{index: i, text: p, score: s})
		}
	}
	if len(scored) == 0 {
		return ""
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var picked []scoredParagraph
	total := 0
	for _, s := range scored {
		if total+len(s.text)+2 > limit {
			continue
		}
		picked = append(picked, s)
		total += len(s.text) + 2
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })
	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = p.text
	}
	return strings.Join(parts, "\n\n")
}

// paragraphScore 每百词的加权命中数，法律套话扣分
func paragraphScore(p string) float64 {
	raw := 2*len(businessVocabulary.FindAllStringIndex(p, -1)) +
		3*len(currencyFigure.FindAllStringIndex(p, -1)) +
		2*len(percentFigure.FindAllStringIndex(p, -1)) -
		5*len(legalBoilerplate.FindAllStringIndex(p, -1))
	if raw <= 0 {
		return 0
	}
	words := len(strings.Fields(p))
	return float64(raw) * 100 / math.Max(float64(words), 20)
}
