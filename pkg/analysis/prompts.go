package analysis

import (
	"fmt"
	"strings"

	"FilingRadar/pkg/model"
)

const systemPrompt = "You are a professional financial analyst. Provide clear, concise analysis without using emojis or informal language."

const markupRules = `Use this inline markup in your analysis:
- *value* around key numbers and metrics, e.g. *$85.8 billion*, *+12%*
- **term** around important business concepts
- +[text] around positive developments
- -[text] around negative developments or risks
- [!text] around at most three standout insights
Keep markup sparse: no more than 15% of the text should be marked.`

// promptSpec 每种表格类型的叙述提示词配置
type promptSpec struct {
	title       string
	targetWords string
	maxTokens   int
	style       string
	focus       []string
	// 语气和问答使用的正文窗口
	toneWindow int
	qaWindow   int
}

var defaultPromptSpec = promptSpec{
	title:       "filing",
	targetWords: "about 600",
	maxTokens:   800,
	style:       "Write a clear summary covering the key points.",
	focus:       []string{"What the filing discloses", "Why it matters to investors"},
	toneWindow:  3000,
	qaWindow:    2000,
}

var promptSpecs = map[model.FilingType]promptSpec{
	model.FilingType10K: {
		title:       "annual report (10-K)",
		targetWords: "800-1200",
		maxTokens:   1200,
		style:       "Tell the story of the company's year: where it started, what changed, and where it is heading.",
		focus: []string{
			"Annual performance highlights and key metrics versus the prior year",
			"Business segment and geographic performance",
			"Strategic investments and R&D focus",
			"Management's forward-looking statements and guidance",
			"Major risks and challenges faced during the year",
			"Capital allocation: dividends, buybacks, acquisitions",
		},
		toneWindow: 3000,
		qaWindow:   3000,
	},
	model.FilingType10Q: {
		title:       "quarterly report (10-Q)",
		targetWords: "800-1200",
		maxTokens:   1000,
		style:       "Lead with whether the quarter beat or missed expectations, then explain the drivers.",
		focus: []string{
			"Quarterly results versus analyst expectations",
			"Key growth drivers this quarter",
			"Margin changes and profitability trends",
			"Updated guidance or outlook changes",
			"Quarter-over-quarter and year-over-year comparisons",
			"Cash flow and balance sheet highlights",
		},
		toneWindow: 3000,
		qaWindow:   2500,
	},
	model.FilingType8K: {
		title:       "current report (8-K)",
		targetWords: "600-800",
		maxTokens:   800,
		style:       "Write in a news style: the event first, then context and impact.",
		focus: []string{
			"What happened",
			"When it happened or takes effect",
			"Who is involved",
			"Why it matters to investors",
			"Immediate or expected impact",
		},
		toneWindow: 2000,
		qaWindow:   2000,
	},
	model.FilingTypeS1: {
		title:       "IPO registration statement (S-1)",
		targetWords: "800-1000",
		maxTokens:   1200,
		style:       "Frame the analysis as an IPO investment thesis.",
		focus: []string{
			"Business model and value proposition",
			"Financial snapshot: revenue, profitability, growth rates",
			"Offering terms and price range if disclosed",
			"Use of proceeds",
			"Key risk factors specific to this business",
			"Competitive position, management and major shareholders",
		},
		toneWindow: 3000,
		qaWindow:   3000,
	},
}

func specFor(ft model.FilingType) promptSpec {
	if ft == model.FilingTypeS1A {
		ft = model.FilingTypeS1
	}
	if s, ok := promptSpecs[ft]; ok {
		return s
	}
	return defaultPromptSpec
}

// narrativePrompt 长篇分析提示词，extra为附加上下文（如分析师预期）
func narrativePrompt(ps promptSpec, company string, content, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this %s %s.\n\n", company, ps.title)
	b.WriteString("Focus on:\n")
	for i, f := range ps.focus {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	if extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%s\n\n", markupRules)
	fmt.Fprintf(&b, "Content:\n%s\n\n", content)
	fmt.Fprintf(&b, "%s Write %s words for investors.", ps.style, ps.targetWords)
	return b.String()
}

func feedSummaryPrompt(label, narrative string) string {
	return fmt.Sprintf(`Based on this %s analysis, write a single compelling sentence (max 15 words) that captures the most important point for investors.

Analysis:
%s

Write just one clear sentence without markup:`, label, truncateRunes(StripMarkup(narrative), 500))
}

var toneGuides = map[model.FilingType]string{
	model.FilingType8K: `This is an 8-K filing about: %s
Tone should reflect the nature of the event:
- OPTIMISTIC: positive developments such as promotions, strong results, expansion
- CONFIDENT: planned transitions, meeting expectations
- NEUTRAL: routine disclosures
- CAUTIOUS: challenges being addressed
- CONCERNED: negative events, departures, missed targets`,
	model.FilingTypeS1: `This is an IPO registration statement. Assess the story being told:
- OPTIMISTIC: strong growth story, market leadership claims, aggressive projections
- CONFIDENT: solid fundamentals, clear path to profitability
- NEUTRAL: balanced presentation of opportunities and risks
- CAUTIOUS: heavy emphasis on risks, conservative projections
- CONCERNED: significant losses, unclear path to profitability`,
}

const defaultToneGuide = `Classify the management tone as one of:
- OPTIMISTIC: positive outlook, growth emphasis, confident language
- CONFIDENT: steady progress, meeting targets, controlled growth
- NEUTRAL: balanced, factual reporting
- CAUTIOUS: emphasizing challenges, conservative outlook
- CONCERNED: significant risks, defensive language`

func tonePrompt(ft model.FilingType, eventType, content string) string {
	guide := defaultToneGuide
	switch {
	case ft == model.FilingType8K:
		guide = fmt.Sprintf(toneGuides[model.FilingType8K], eventType)
	case ft.IsS1():
		guide = toneGuides[model.FilingTypeS1]
	}
	return fmt.Sprintf(`%s

Text:
%s

Respond in JSON: {"tone": "OPTIMISTIC|CONFIDENT|NEUTRAL|CAUTIOUS|CONCERNED", "explanation": "50-100 words"}`, guide, content)
}

func qaPrompt(ps promptSpec, company, narrative string) string {
	return fmt.Sprintf(`Based on this analysis of the %s %s, generate 3-5 key questions an investor would ask, each answered from the analysis (30-100 words per answer).

Analysis:
%s

Respond in JSON: {"questions": [{"question": "...", "answer": "..."}]}`, company, ps.title, truncateRunes(StripMarkup(narrative), ps.qaWindow))
}

func highlightsPrompt(company, content string) string {
	return fmt.Sprintf(`List the 3-5 most important financial highlights from this %s filing as short bullet points with figures.

Content:
%s`, company, content)
}
