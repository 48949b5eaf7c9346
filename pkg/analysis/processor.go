// Package analysis 调用大模型生成申报文件的叙述分析和附属字段
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/estimates"
	"FilingRadar/pkg/extractor"
	"FilingRadar/pkg/llm"
	"FilingRadar/pkg/model"
)

const (
	minContentChars   = 100
	feedSummaryChars  = 100
	maxQuestions      = 5
	highlightsWindow  = 4000
	defaultContentCap = 45000
)

// EstimatesProvider 分析师预期来源
type EstimatesProvider interface {
	QuarterEstimates(ctx context.Context, ticker string, periodEnd time.Time) (*estimates.Estimate, error)
}

// Options 处理器配置
type Options struct {
	ContentLimit int
	Temperature  float64
	// 是否为10-Q获取分析师预期
	Estimates bool
}

// Processor AI处理器
type Processor struct {
	llm       llm.Completer
	extractor *extractor.Extractor
	estimates EstimatesProvider
	opts      Options
	logger    *zap.Logger
}

// NewProcessor 创建AI处理器，estimates可为nil
func NewProcessor(completer llm.Completer, ext *extractor.Extractor, est EstimatesProvider, opts Options, logger *zap.Logger) *Processor {
	if opts.ContentLimit <= 0 {
		opts.ContentLimit = defaultContentCap
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ext == nil {
		ext = extractor.New(logger)
	}
	return &Processor{llm: completer, extractor: ext, estimates: est, opts: opts, logger: logger}
}

// Analysis 一次AI处理的全部产出
type Analysis struct {
	Narrative              string
	FeedSummary            string
	Markup                 MarkupData
	Tone                   model.ManagementTone
	ToneExplanation        string
	Questions              []model.QAPair
	Tags                   []string
	FinancialHighlights    string
	ExpectationsComparison string
	Estimates              *estimates.Estimate
	FinancialData          map[string]string
	EventType              string
	Data                   *extractor.FilingData
	Model                  string
}

// Apply 将分析结果写入filing，不修改状态字段
func (a *Analysis) Apply(f *model.Filing) {
	f.UnifiedAnalysis = a.Narrative
	f.FeedSummary = a.FeedSummary
	f.MarkupData = model.ToJSON(a.Markup)
	f.ManagementTone = a.Tone
	f.ToneExplanation = a.ToneExplanation
	f.KeyQuestions = model.ToJSON(a.Questions)
	f.KeyTags = model.ToJSON(a.Tags)
	f.FinancialHighlights = a.FinancialHighlights
	f.ExpectationsComparison = a.ExpectationsComparison
	f.AIModel = a.Model
	if a.Estimates != nil {
		f.AnalystExpectations = model.ToJSON(a.Estimates)
	}
	if len(a.FinancialData) > 0 {
		f.FinancialData = model.ToJSON(a.FinancialData)
	}
	if a.EventType != "" {
		f.EventType = a.EventType
	}
	if a.Data != nil {
		f.StructuredData = model.ToJSON(a.Data)
		if len(a.Data.Items) > 0 {
			f.ItemNumbers = model.ToJSON(a.Data.ItemNumbers())
			f.ItemDescriptions = model.ToJSON(a.Data.ItemDescriptions())
		}
	}
}

// Analyze 重新提取文本并生成分析。ConfigurationError和空叙述会返回错误，其余子步骤失败只记录日志
func (p *Processor) Analyze(ctx context.Context, filing *model.Filing, company *model.Company, dir string) (*Analysis, error) {
	res := p.extractor.ExtractDirAs(dir, filing.FilingType)
	return p.AnalyzeExtracted(ctx, filing, company, res)
}

// AnalyzeExtracted 使用已有的提取结果生成分析
func (p *Processor) AnalyzeExtracted(ctx context.Context, filing *model.Filing, company *model.Company, res *extractor.Result) (*Analysis, error) {
	log := p.logger.With(zap.String("accession", filing.AccessionNumber), zap.String("filing_type", string(filing.FilingType)))
	if !res.OK() {
		return nil, errs.Content("文本提取失败", errors.New(res.Error))
	}
	if len(strings.TrimSpace(res.PrimaryContent)) < minContentChars {
		return nil, errs.Content("提取内容不足", fmt.Errorf("仅%d字符", len(res.PrimaryContent)))
	}

	ft := filing.FilingType
	if ft == "" || ft == model.FilingTypeUnknown {
		ft = res.FilingType
	}
	data := extractor.ExtractFilingData(res.FullText, ft)
	companyName := companyLabel(filing, company)
	ps := specFor(ft)
	content := truncateRunes(res.PrimaryContent, p.opts.ContentLimit)

	a := &Analysis{Data: data, Model: p.llm.Model()}

	var extra string
	if ft == model.FilingType10Q {
		a.Estimates = p.fetchEstimates(ctx, filing, data, log)
		extra = expectationsContext(a.Estimates)
	}
	if ft == model.FilingType8K {
		a.EventType = data.EventType
		if a.EventType == "" {
			a.EventType = EventTypeFallback(content)
		}
		extra = "This filing appears to be about: " + a.EventType
	}

	narrative, err := p.complete(ctx, log, llm.Request{
		System:      systemPrompt,
		User:        narrativePrompt(ps, companyName, content, extra),
		MaxTokens:   ps.maxTokens,
		Temperature: p.opts.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if narrative == "" {
		return nil, errs.Transient("ai分析", errors.New("AI返回空分析"))
	}
	a.Narrative = narrative

	label := string(ft)
	if ft.IsS1() {
		label = "IPO filing"
	}
	if a.FeedSummary, err = p.feedSummary(ctx, log, label, narrative); err != nil {
		return nil, err
	}

	a.Markup = ParseMarkup(narrative)
	if ratio := markupRatio(narrative); ratio > MarkupDensity {
		log.Warn("markup密度过高", zap.Float64("ratio", ratio))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a.Tone, a.ToneExplanation, err = p.tone(gctx, log, ft, a.EventType, truncateRunes(content, ps.toneWindow))
		return err
	})
	g.Go(func() error {
		var err error
		a.Questions, err = p.questions(gctx, log, ps, companyName, narrative)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	exchange := ""
	if data.Offering != nil {
		exchange = data.Offering.Exchange
	}
	a.Tags = DeriveTags(TagInput{
		FilingType:  ft,
		Narrative:   narrative,
		Markup:      a.Markup,
		ItemNumbers: data.ItemNumbers(),
		Exchange:    exchange,
	})

	if err := p.supplement(ctx, log, a, ft, companyName, res); err != nil {
		return nil, err
	}

	log.Info("AI分析完成",
		zap.Int("narrative", len(a.Narrative)),
		zap.String("tone", string(a.Tone)),
		zap.Strings("tags", a.Tags),
		zap.Int("questions", len(a.Questions)))
	return a, nil
}

// supplement 按类型补充字段
func (p *Processor) supplement(ctx context.Context, log *zap.Logger, a *Analysis, ft model.FilingType, company string, res *extractor.Result) error {
	switch {
	case ft == model.FilingType10K:
		a.FinancialData = ExtractFinancialData(res.FullText)
		return p.highlights(ctx, log, a, company, res.PrimaryContent)
	case ft == model.FilingType10Q:
		a.FinancialData = ExtractFinancialData(res.FullText)
		if a.Estimates.HasEstimate() {
			a.ExpectationsComparison = ExpectationsComparison(a.Estimates)
			return nil
		}
		return p.highlights(ctx, log, a, company, res.PrimaryContent)
	case ft.IsS1():
		a.FinancialData = ExtractFinancialData(res.FullText)
	}
	return nil
}

func (p *Processor) highlights(ctx context.Context, log *zap.Logger, a *Analysis, company, content string) error {
	out, err := p.complete(ctx, log, llm.Request{
		System:      systemPrompt,
		User:        highlightsPrompt(company, truncateRunes(content, highlightsWindow)),
		MaxTokens:   300,
		Temperature: p.opts.Temperature,
	})
	a.FinancialHighlights = out
	return err
}

func (p *Processor) fetchEstimates(ctx context.Context, filing *model.Filing, data *extractor.FilingData, log *zap.Logger) *estimates.Estimate {
	if !p.opts.Estimates || p.estimates == nil || filing.Ticker == "" {
		return nil
	}
	periodEnd := filing.FilingDate
	if t, err := time.Parse("2006-01-02", data.PeriodEndDate); err == nil {
		periodEnd = t
	} else if filing.PeriodDate != nil {
		periodEnd = *filing.PeriodDate
	}
	est, err := p.estimates.QuarterEstimates(ctx, filing.Ticker, periodEnd)
	if err != nil {
		log.Warn("获取分析师预期失败，继续处理", zap.String("ticker", filing.Ticker), zap.Error(err))
		return nil
	}
	return est
}

func (p *Processor) feedSummary(ctx context.Context, log *zap.Logger, label, narrative string) (string, error) {
	out, err := p.complete(ctx, log, llm.Request{
		System:      systemPrompt,
		User:        feedSummaryPrompt(label, narrative),
		MaxTokens:   50,
		Temperature: p.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	out = cleanOneLiner(out)
	if out == "" {
		out = cleanOneLiner(firstSentence(StripMarkup(narrative)))
	}
	return capWithEllipsis(out, feedSummaryChars), nil
}

type toneResult struct {
	Tone        string `json:"tone"`
	Explanation string `json:"explanation"`
}

func (p *Processor) tone(ctx context.Context, log *zap.Logger, ft model.FilingType, eventType, content string) (model.ManagementTone, string, error) {
	out, err := p.complete(ctx, log, llm.Request{
		System:      "You are a professional financial sentiment analyst. Analyze tone objectively.",
		User:        tonePrompt(ft, eventType, content),
		MaxTokens:   200,
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return model.ToneNeutral, "", err
	}
	tone, explanation := ParseTone(out)
	return tone, explanation, nil
}

// ParseTone 解析语气JSON，无法解析时为neutral
func ParseTone(raw string) (model.ManagementTone, string) {
	var r toneResult
	if err := decodeLenient(raw, &r); err != nil || r.Tone == "" {
		return model.ToneNeutral, "Unable to determine tone"
	}
	return model.ParseTone(r.Tone), strings.TrimSpace(r.Explanation)
}

func (p *Processor) questions(ctx context.Context, log *zap.Logger, ps promptSpec, company, narrative string) ([]model.QAPair, error) {
	out, err := p.complete(ctx, log, llm.Request{
		System:      "You are a financial analyst. Generate clear Q&A without speculation.",
		User:        qaPrompt(ps, company, narrative),
		MaxTokens:   800,
		Temperature: p.opts.Temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}
	return ParseQuestions(out), nil
}

// ParseQuestions 接受数组或 {"questions": [...]}，最多5条
func ParseQuestions(raw string) []model.QAPair {
	var pairs []model.QAPair
	if err := decodeLenient(raw, &pairs); err != nil {
		var wrapped struct {
			Questions []model.QAPair `json:"questions"`
		}
		if err := decodeLenient(raw, &wrapped); err != nil {
			return []model.QAPair{}
		}
		pairs = wrapped.Questions
	}

	out := make([]model.QAPair, 0, maxQuestions)
	for _, qa := range pairs {
		qa.Question = strings.TrimSpace(qa.Question)
		qa.Answer = strings.TrimSpace(qa.Answer)
		if qa.Question == "" || qa.Answer == "" {
			continue
		}
		out = append(out, qa)
		if len(out) == maxQuestions {
			break
		}
	}
	return out
}

// complete 唯一的补全入口，不重试。配置错误向上返回，其余错误记录后返回空串
func (p *Processor) complete(ctx context.Context, log *zap.Logger, req llm.Request) (string, error) {
	out, err := p.llm.Complete(ctx, req)
	if err != nil {
		if errs.KindOf(err) == errs.KindConfiguration {
			return "", err
		}
		if ctx.Err() != nil {
			return "", errs.Transient("ai分析", ctx.Err())
		}
		log.Warn("AI补全失败", zap.Error(err))
		return "", nil
	}
	return strings.TrimSpace(out), nil
}

// decodeLenient 去掉代码块围栏并修复常见JSON错误后解析
func decodeLenient(raw string, dst any) error {
	s := stripFences(raw)
	if s == "" {
		return errors.New("空响应")
	}
	if err := json.Unmarshal([]byte(s), dst); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return fmt.Errorf("修复JSON失败: %w", err)
	}
	return json.Unmarshal([]byte(repaired), dst)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func companyLabel(f *model.Filing, c *model.Company) string {
	switch {
	case c != nil && c.Name != "":
		return c.Name
	case f.Company != nil && f.Company.Name != "":
		return f.Company.Name
	case f.Ticker != "":
		return f.Ticker
	}
	return "the company"
}

func cleanOneLiner(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(s, "\"'“”"))
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

// capWithEllipsis 超长时截断并加省略号，总长不超过n个字符
func capWithEllipsis(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(truncateRunes(s, n-3)) + "..."
}

func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
