// Package tasks 编排filing的下载、提取、AI分析和重试
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"FilingRadar/pkg/analysis"
	"FilingRadar/pkg/config"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/downloader"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/extractor"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

// Downloader 下载filing文件
type Downloader interface {
	Download(ctx context.Context, cik, accession string, form model.FilingType) (*downloader.Result, error)
}

// Analyzer 对提取结果做AI分析
type Analyzer interface {
	AnalyzeExtracted(ctx context.Context, filing *model.Filing, company *model.Company, res *extractor.Result) (*analysis.Analysis, error)
}

// Invalidator 处理完成后清理读缓存
type Invalidator interface {
	InvalidateFiling(ctx context.Context, f *model.Filing) error
}

// OutcomeKind 一次处理的结果类别
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	// 已完成，无需处理
	OutcomeAlreadyDone OutcomeKind = "already_done"
	OutcomeNotFound    OutcomeKind = "not_found"
	// 其他worker持有租约
	OutcomeBusy    OutcomeKind = "busy"
	OutcomeInvalid OutcomeKind = "invalid"
	OutcomeRetry   OutcomeKind = "retry"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome ProcessFiling的返回值
type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Decision RetryDecision
	// 重试任务已重新发布
	Requeued bool
}

// Options 流水线参数
type Options struct {
	MaxRetries   int
	RetryBase    time.Duration
	SoftTimeout  time.Duration
	ClaimTTL     time.Duration
	AIProcessing bool
}

// OptionsFromConfig 从应用配置生成流水线参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:   cfg.Worker.MaxRetries,
		RetryBase:    cfg.Worker.RetryBase,
		SoftTimeout:  cfg.Worker.SoftTimeout,
		ClaimTTL:     cfg.Worker.ClaimTTL,
		AIProcessing: cfg.Features.AIProcessing,
	}
}

// Pipeline filing处理流水线
type Pipeline struct {
	db         *database.DB
	downloader Downloader
	extractor  *extractor.Extractor
	analyzer   Analyzer
	cache      Invalidator
	queue      messaging.Publisher
	policy     RetryPolicy
	opts       Options
	logger     *zap.Logger

	refetchInterval time.Duration
}

// NewPipeline 创建流水线，analyzer和cache可为nil
func NewPipeline(db *database.DB, dl Downloader, ext *extractor.Extractor, analyzer Analyzer, cache Invalidator, queue messaging.Publisher, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ext == nil {
		ext = extractor.New(logger)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = model.MaxProcessingRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Minute
	}
	if opts.SoftTimeout <= 0 {
		opts.SoftTimeout = 5 * time.Minute
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 15 * time.Minute
	}
	return &Pipeline{
		db:              db,
		downloader:      dl,
		extractor:       ext,
		analyzer:        analyzer,
		cache:           cache,
		queue:           queue,
		policy:          RetryPolicy{MaxRetries: opts.MaxRetries, Base: opts.RetryBase},
		opts:            opts,
		logger:          logger,
		refetchInterval: 500 * time.Millisecond,
	}
}

// run 单次处理的状态，current跟踪数据库中的状态以便条件更新
type run struct {
	filing  *model.Filing
	current model.ProcessingStatus
	log     *zap.Logger
}

// ProcessFiling 处理一个filing，失败时写入failed并按策略重新发布任务
func (p *Pipeline) ProcessFiling(ctx context.Context, filingID string, attempt int) Outcome {
	log := p.logger.With(zap.String("filing_id", filingID), zap.Int("attempt", attempt))

	filing, err := p.refetch(ctx, filingID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			log.Warn("filing不存在，放弃任务")
			return Outcome{Kind: OutcomeNotFound, Err: err}
		}
		d := p.policy.Decide(err, attempt)
		return Outcome{Kind: OutcomeRetry, Err: err, Decision: d}
	}
	log = log.With(zap.String("accession", filing.AccessionNumber), zap.String("filing_type", string(filing.FilingType)))
	r := &run{filing: filing, current: filing.Status, log: log}

	switch {
	case filing.IsCompleted():
		log.Info("filing已完成，跳过")
		return Outcome{Kind: OutcomeAlreadyDone}
	case filing.Status == model.StatusCompleted, filing.Status == model.StatusSkipped:
		return Outcome{Kind: OutcomeSkipped}
	}

	token := uuid.New().String()
	claimed, err := p.db.Filing().Claim(ctx, filing.ID, token, p.opts.ClaimTTL)
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err, Decision: p.policy.Decide(errs.Transient("获取租约", err), attempt)}
	}
	if !claimed {
		log.Info("filing正在被其他worker处理")
		return Outcome{Kind: OutcomeBusy}
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.db.Filing().Release(rctx, filing.ID, token); err != nil {
			log.Warn("释放租约失败", zap.Error(err))
		}
	}()

	// 持有租约后才写入失败，避免覆盖其他worker的处理
	if err := Validate(filing); err != nil {
		log.Warn("filing校验失败", zap.Error(err))
		p.fail(ctx, r, err, RetryDecision{Kind: errs.KindValidation})
		return Outcome{Kind: OutcomeInvalid, Err: err}
	}

	sctx, cancel := context.WithTimeout(ctx, p.opts.SoftTimeout)
	defer cancel()

	start := time.Now()
	if err := p.execute(sctx, r); err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warn("超过软超时", zap.Duration("soft_timeout", p.opts.SoftTimeout))
			err = errs.Transient("处理超时", err)
		}
		d := p.policy.Decide(err, attempt)
		p.fail(ctx, r, err, d)
		out := Outcome{Kind: OutcomeFailed, Err: err, Decision: d}
		if d.Retry {
			out.Kind = OutcomeRetry
			out.Requeued = p.requeue(ctx, filing.ID, attempt+1, d.Delay)
		}
		return out
	}

	log.Info("filing处理完成", zap.Duration("elapsed", time.Since(start)))
	p.afterSuccess(ctx, r)
	return Outcome{Kind: OutcomeCompleted}
}

// refetch 短暂重试读取，应对任务先于事务提交到达
func (p *Pipeline) refetch(ctx context.Context, id string) (*model.Filing, error) {
	var filing *model.Filing
	op := func() error {
		f, err := p.db.Filing().GetByID(ctx, id)
		if err != nil {
			return err
		}
		filing = f
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.refetchInterval), 2), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return filing, nil
}

// execute 依次执行各阶段，每次状态写入都经过迁移表
func (p *Pipeline) execute(ctx context.Context, r *run) error {
	f := r.filing
	if err := p.enterDownloading(ctx, r); err != nil {
		return err
	}

	cik := f.CompanyID
	if f.Company != nil {
		cik = f.Company.CIK
	}
	dl, err := p.downloader.Download(ctx, cik, f.AccessionNumber, f.FilingType)
	if err != nil {
		return err
	}
	if err := downloader.VerifyFiles(dl); err != nil {
		return err
	}

	now := time.Now()
	if err := p.transition(ctx, r, model.StatusParsing, downloadFields(dl, now)); err != nil {
		return err
	}

	// 主文档和附件以索引页的分类为准
	res := p.extractor.ExtractFiles(extractor.Files{
		Primary:   dl.PrimaryPath,
		Exhibit99: dl.ExhibitPaths(downloader.CategoryPressRelease),
	}, f.FilingType)
	if !res.OK() {
		return errs.Content("文本提取失败", errors.New(res.Error))
	}
	data := extractor.ExtractFilingData(res.FullText, f.FilingType)
	now = time.Now()
	fields := extractionFields(res, data)
	fields["parsed_at"] = now
	fields["processing_started_at"] = now
	if err := p.transition(ctx, r, model.StatusAIProcessing, fields); err != nil {
		return err
	}

	completed := map[string]any{"error_message": "", "needs_review": false}
	if p.opts.AIProcessing && p.analyzer != nil {
		a, err := p.analyzer.AnalyzeExtracted(ctx, f, f.Company, res)
		if err != nil {
			return err
		}
		a.Apply(f)
		for k, v := range analysisFields(f) {
			completed[k] = v
		}
	} else {
		r.log.Info("AI处理已关闭，跳过分析")
	}
	completed["processed_at"] = time.Now()
	return p.transition(ctx, r, model.StatusCompleted, completed)
}

// enterDownloading 将pending/failed推进到downloading；中断留下的处理中状态按迁移表恢复
func (p *Pipeline) enterDownloading(ctx context.Context, r *run) error {
	fields := map[string]any{"download_started_at": time.Now()}
	switch r.current {
	case model.StatusDownloading:
		return p.db.Filing().Update(ctx, r.filing.ID, fields)
	case model.StatusAIProcessing:
		if err := p.transition(ctx, r, model.StatusFailed, map[string]any{"error_message": "恢复中断的处理"}); err != nil {
			return err
		}
	}
	return p.transition(ctx, r, model.StatusDownloading, fields)
}

func (p *Pipeline) transition(ctx context.Context, r *run, to model.ProcessingStatus, fields map[string]any) error {
	if err := p.db.Filing().Transition(ctx, r.filing.ID, r.current, to, fields); err != nil {
		return err
	}
	r.log.Debug("状态迁移", zap.String("from", string(r.current)), zap.String("to", string(to)))
	r.current = to
	r.filing.Status = to
	return nil
}

// fail 写入failed，超时后仍使用独立的context完成记录
func (p *Pipeline) fail(ctx context.Context, r *run, cause error, d RetryDecision) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	r.log.Warn("filing处理失败",
		zap.String("kind", string(d.Kind)),
		zap.Bool("retry", d.Retry),
		zap.Duration("delay", d.Delay),
		zap.Error(cause))

	// 每次失败都计数；只有临时错误标记为可重试，扫描不会重新发布其他失败
	if err := p.db.Filing().MarkFailed(fctx, r.filing.ID, r.current, database.Failure{
		Message:     cause.Error(),
		Kind:        string(d.Kind),
		Retryable:   d.Retry,
		NeedsReview: d.NeedsReview,
	}); err != nil {
		r.log.Error("写入失败状态失败", zap.Error(err))
		return
	}
	r.current = model.StatusFailed
	r.filing.Status = model.StatusFailed
	r.filing.ErrorMessage = cause.Error()
	r.filing.NeedsReview = d.NeedsReview
	r.filing.ErrorKind = string(d.Kind)
	r.filing.Retryable = d.Retry
	r.filing.RetryCount++

	switch {
	case d.NeedsReview:
		p.enqueueNotify(fctx, r, model.NotifyFilingReview)
	case !d.Retry:
		p.enqueueNotify(fctx, r, model.NotifyFilingFailed)
	}
}

func (p *Pipeline) afterSuccess(ctx context.Context, r *run) {
	if p.cache != nil {
		if err := p.cache.InvalidateFiling(ctx, r.filing); err != nil {
			r.log.Warn("清理缓存失败", zap.Error(err))
		}
	}
	p.enqueueNotify(ctx, r, model.NotifyFilingCompleted)
}

func (p *Pipeline) enqueueNotify(ctx context.Context, r *run, typ model.NotificationType) {
	if p.queue == nil {
		return
	}
	task := messaging.NotifyTask{FilingID: r.filing.ID, Type: typ}
	if err := p.queue.Publish(ctx, messaging.SubjectNotify, task); err != nil {
		r.log.Warn("发布通知任务失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

// requeue 发布延迟执行的重试任务，失败时由消息层重投
func (p *Pipeline) requeue(ctx context.Context, filingID string, attempt int, delay time.Duration) bool {
	if p.queue == nil {
		return false
	}
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Enqueue(qctx, filingID, attempt, delay); err != nil {
		p.logger.Warn("发布重试任务失败", zap.String("filing_id", filingID), zap.Error(err))
		return false
	}
	return true
}

// Enqueue 发布处理任务，delay>0时设置not_before
func (p *Pipeline) Enqueue(ctx context.Context, filingID string, attempt int, delay time.Duration) error {
	task := messaging.ProcessTask{FilingID: filingID, Attempt: attempt}
	if delay > 0 {
		at := time.Now().Add(delay).UTC()
		task.NotBefore = &at
	}
	return p.publish(ctx, task)
}

func (p *Pipeline) publish(ctx context.Context, task messaging.ProcessTask) error {
	if p.queue == nil {
		return errors.New("任务队列不可用")
	}
	if err := p.queue.Publish(ctx, messaging.SubjectProcess, task); err != nil {
		return fmt.Errorf("发布处理任务失败: %w", err)
	}
	return nil
}

func downloadFields(dl *downloader.Result, now time.Time) map[string]any {
	exhibits := make([]string, 0, len(dl.Exhibits))
	for _, ex := range dl.Exhibits {
		exhibits = append(exhibits, ex.URL)
	}
	return map[string]any{
		"filing_url":      dl.IndexURL,
		"primary_doc_url": dl.Primary.URL,
		"exhibit_urls":    model.ToJSON(exhibits),
		"downloaded_at":   now,
	}
}

func extractionFields(res *extractor.Result, data *extractor.FilingData) map[string]any {
	fields := map[string]any{
		"raw_text":           res.FullText,
		"primary_content":    res.PrimaryContent,
		"extracted_sections": model.ToJSON(res.Sections),
		"fiscal_year":        data.FiscalYear,
		"fiscal_quarter":     data.FiscalQuarter,
		"period_end_date":    data.PeriodEndDate,
		"auditor_opinion":    data.AuditorOpinion,
		"structured_data":    model.ToJSON(data),
	}
	if len(data.Items) > 0 {
		fields["item_numbers"] = model.ToJSON(data.ItemNumbers())
		fields["item_descriptions"] = model.ToJSON(data.ItemDescriptions())
		fields["event_type"] = data.EventType
	}
	return fields
}

// analysisFields Analysis.Apply写入的列
func analysisFields(f *model.Filing) map[string]any {
	fields := map[string]any{
		"unified_analysis":        f.UnifiedAnalysis,
		"feed_summary":            f.FeedSummary,
		"markup_data":             f.MarkupData,
		"management_tone":         f.ManagementTone,
		"tone_explanation":        f.ToneExplanation,
		"key_questions":           f.KeyQuestions,
		"key_tags":                f.KeyTags,
		"financial_highlights":    f.FinancialHighlights,
		"expectations_comparison": f.ExpectationsComparison,
		"ai_model":                f.AIModel,
		"event_type":              f.EventType,
	}
	if f.AnalystExpectations != nil {
		fields["analyst_expectations"] = f.AnalystExpectations
	}
	if f.FinancialData != nil {
		fields["financial_data"] = f.FinancialData
	}
	if f.StructuredData != nil {
		fields["structured_data"] = f.StructuredData
	}
	if f.ItemNumbers != nil {
		fields["item_numbers"] = f.ItemNumbers
		fields["item_descriptions"] = f.ItemDescriptions
	}
	return fields
}
