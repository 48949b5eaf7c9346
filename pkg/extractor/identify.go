package extractor

import (
	"regexp"
	"strings"

	"FilingRadar/pkg/model"
)

const identifyWindow = 5000

type weightedPattern struct {
	re     *regexp.Regexp
	weight int
}

func wp(pattern string, weight int) weightedPattern {
	return weightedPattern{re: regexp.MustCompile(pattern), weight: weight}
}

// typeSignatures 文本开头的特征，按顺序决定同分时的优先级
var typeSignatures = []struct {
	form     model.FilingType
	patterns []weightedPattern
}{
	{model.FilingType10K, []weightedPattern{
		wp(`FORM\s+10-K\b`, 10),
		wp(`ANNUAL\s+REPORT\s+PURSUANT\s+TO\s+SECTION`, 6),
		wp(`FOR\s+THE\s+FISCAL\s+YEAR\s+ENDED`, 4),
		wp(`ITEM\s+1\.?\s*BUSINESS`, 3),
		wp(`ANNUAL\s+REPORT`, 2),
	}},
	{model.FilingType10Q, []weightedPattern{
		wp(`FORM\s+10-Q\b`, 10),
		wp(`QUARTERLY\s+REPORT\s+PURSUANT\s+TO\s+SECTION`, 6),
		wp(`FOR\s+THE\s+QUARTERLY\s+PERIOD\s+ENDED`, 5),
		wp(`CONDENSED\s+CONSOLIDATED`, 2),
		wp(`QUARTERLY\s+REPORT`, 2),
	}},
	{model.FilingType8K, []weightedPattern{
		wp(`FORM\s+8-K\b`, 10),
		wp(`CURRENT\s+REPORT\s+PURSUANT\s+TO\s+SECTION`, 6),
		wp(`DATE\s+OF\s+REPORT`, 4),
		wp(`ITEM\s+\d\.\d{2}`, 3),
		wp(`CURRENT\s+REPORT`, 2),
	}},
	{model.FilingTypeS1, []weightedPattern{
		wp(`FORM\s+S-1\b`, 10),
		wp(`REGISTRATION\s+STATEMENT\s+UNDER\s+THE\s+SECURITIES\s+ACT`, 6),
		wp(`INITIAL\s+PUBLIC\s+OFFERING`, 3),
		wp(`PROPOSED\s+MAXIMUM\s+AGGREGATE`, 2),
		wp(`PROSPECTUS`, 2),
	}},
}

var anyItemNumber = regexp.MustCompile(`ITEM\s+\d+\.\d+`)

// IdentifyFilingType 对前5000个字符按类型累加权重，得分最高者胜出
func IdentifyFilingType(text string) model.FilingType {
	head := strings.ToUpper(truncate(text, identifyWindow))

	best, bestScore := model.FilingTypeUnknown, 0
	for _, sig := range typeSignatures {
		score := 0
		for _, p := range sig.patterns {
			if p.re.MatchString(head) {
				score += p.weight
			}
		}
		if score > bestScore {
			best, bestScore = sig.form, score
		}
	}
	if bestScore > 0 {
		return best
	}
	if anyItemNumber.MatchString(head) {
		return model.FilingType8K
	}
	return model.FilingTypeUnknown
}
