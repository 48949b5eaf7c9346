// Package scanner 轮询EDGAR RSS，为监控范围内的公司创建filing记录
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"FilingRadar/pkg/config"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/edgar"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

// Feed RSS和公司信息来源
type Feed interface {
	FetchAll(ctx context.Context, forms []string, lookback time.Duration, now time.Time) []edgar.FeedEntry
	CompanyInfo(ctx context.Context, cik string) (*edgar.CompanyInfo, error)
}

// Options 扫描参数
type Options struct {
	Forms    []string
	Lookback time.Duration
}

// OptionsFromConfig 从应用配置生成扫描参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Forms:    cfg.SEC.Forms,
		Lookback: time.Duration(cfg.SEC.LookbackMinutes) * time.Minute,
	}
}

// Scanner EDGAR扫描器
type Scanner struct {
	db       *database.DB
	feed     Feed
	queue    messaging.Publisher
	universe *Universe
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewScanner 创建扫描器
func NewScanner(db *database.DB, feed Feed, queue messaging.Publisher, universe *Universe, opts Options, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Forms) == 0 {
		opts.Forms = []string{"10-K", "10-Q", "8-K", "S-1"}
	}
	if opts.Lookback <= 0 {
		opts.Lookback = time.Hour
	}
	return &Scanner{
		db:       db,
		feed:     feed,
		queue:    queue,
		universe: universe,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// MonitoredCIKs 快照与数据库中标记为S&P 500/NASDAQ 100的公司的并集
func (s *Scanner) MonitoredCIKs(ctx context.Context) (map[string]bool, error) {
	monitored := lo.SliceToMap(s.universe.CIKs(), func(cik string) (string, bool) { return cik, true })

	ciks, err := s.db.Company().MonitoredCIKs(ctx)
	if err != nil {
		return monitored, err
	}
	for _, cik := range ciks {
		if model.IsPlaceholderCIK(cik) {
			continue
		}
		monitored[edgar.PadCIK(cik)] = true
	}
	return monitored, nil
}

// Scan 执行一次扫描，返回新建的filing。单条失败只回滚该条
func (s *Scanner) Scan(ctx context.Context) ([]*model.Filing, error) {
	now := s.now().UTC()
	log := s.logger.With(zap.Time("scan_at", now))

	monitored, err := s.MonitoredCIKs(ctx)
	if err != nil {
		log.Warn("读取数据库监控公司失败，仅使用快照", zap.Error(err))
	}

	entries := s.feed.FetchAll(ctx, s.opts.Forms, s.opts.Lookback, now)
	if len(entries) == 0 {
		log.Info("RSS中没有新的申报")
		return nil, nil
	}

	supported := lo.SliceToMap(s.opts.Forms, func(f string) (string, bool) { return model.BaseForm(f), true })
	var created []*model.Filing
	relevant := 0

	for _, e := range entries {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		if err := validateEntry(e, supported, now); err != nil {
			log.Warn("跳过无效RSS条目", zap.String("company", e.CompanyName), zap.Error(err))
			continue
		}

		ft := model.ParseFilingType(e.Form)
		if !ft.IsS1() && !monitored[e.CIK] {
			continue
		}
		relevant++

		exists, err := s.db.Filing().ExistsByAccession(ctx, e.AccessionNumber)
		if err != nil {
			log.Error("查询filing失败", zap.String("accession", e.AccessionNumber), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		filing, err := s.ingest(ctx, e, ft, now)
		if err != nil {
			log.Error("创建filing失败", zap.String("accession", e.AccessionNumber), zap.Error(err))
			continue
		}
		if filing == nil {
			continue
		}
		created = append(created, filing)
		log.Info("发现新申报",
			zap.String("ticker", filing.Ticker),
			zap.String("form", e.Form),
			zap.String("filing_date", e.FilingDate),
			zap.String("filing_id", filing.ID))

		s.enqueue(ctx, filing)
	}

	if n, err := s.db.Filing().BackfillTickers(ctx); err != nil {
		log.Warn("回填ticker失败", zap.Error(err))
	} else if n > 0 {
		log.Info("已回填filing ticker", zap.Int64("rows", n))
	}

	log.Info("扫描完成", zap.Int("entries", len(entries)), zap.Int("relevant", relevant), zap.Int("created", len(created)))
	return created, nil
}

// ingest 在单独的事务中解析公司并创建filing，已存在时返回nil
func (s *Scanner) ingest(ctx context.Context, e edgar.FeedEntry, ft model.FilingType, now time.Time) (*model.Filing, error) {
	filingDate, _ := time.Parse("2006-01-02", e.FilingDate)

	var info *edgar.CompanyInfo
	if _, inSnapshot := s.universe.Lookup(e.CIK); !inSnapshot {
		if _, err := s.db.Company().GetByCIK(ctx, e.CIK); errors.Is(err, errs.ErrNotFound) {
			info = s.companyInfo(ctx, e.CIK)
		}
	}

	var filing *model.Filing
	err := s.db.Transaction(ctx, func(tx *database.DB) error {
		company, err := s.resolveCompany(ctx, tx, e, info)
		if err != nil {
			return err
		}

		f := &model.Filing{
			CompanyID:       company.ID,
			AccessionNumber: e.AccessionNumber,
			FilingType:      ft,
			FormType:        e.Form,
			FilingDate:      filingDate,
			FilingURL:       e.Link,
			Status:          model.StatusPending,
			DetectedAt:      &now,
		}
		if company.HasTicker() {
			f.Ticker = *company.Ticker
		}
		ok, err := tx.Filing().CreateIfAbsent(ctx, f)
		if err != nil {
			return err
		}
		if ok {
			f.Company = company
			filing = f
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filing, nil
}

// resolveCompany 依次使用数据库、快照、SEC公司信息，最后创建无ticker的占位公司
func (s *Scanner) resolveCompany(ctx context.Context, tx *database.DB, e edgar.FeedEntry, info *edgar.CompanyInfo) (*model.Company, error) {
	snap, inSnapshot := s.universe.Lookup(e.CIK)

	company, err := tx.Company().GetByCIK(ctx, e.CIK)
	switch {
	case err == nil:
		changed := false
		if !company.IsActive {
			company.IsActive = true
			changed = true
		}
		if !company.HasTicker() && inSnapshot && snap.Ticker != "" {
			company.Ticker = lo.ToPtr(strings.ToUpper(snap.Ticker))
			changed = true
		}
		if inSnapshot && !company.IsSP500 {
			company.IsSP500 = true
			changed = true
		}
		if changed {
			if err := tx.Company().Save(ctx, company); err != nil {
				return nil, err
			}
		}
		return company, nil
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	company = &model.Company{CIK: e.CIK, IsActive: true}
	switch {
	case inSnapshot:
		company.Name = snap.Name
		company.Sector = snap.Sector
		company.Industry = snap.Industry
		company.IsSP500 = true
		if snap.Ticker != "" {
			company.Ticker = lo.ToPtr(strings.ToUpper(snap.Ticker))
		}
	case info != nil:
		company.Name = info.Name
		company.SICCode = info.SIC
		company.SICDescription = info.SICDescription
		if t := info.PrimaryTicker(); t != "" {
			company.Ticker = &t
		}
	default:
		company.Name = e.CompanyName
	}
	if company.Name == "" {
		company.Name = "CIK " + e.CIK
	}

	if err := tx.Company().Create(ctx, company); err != nil {
		return nil, err
	}
	s.logger.Info("新建公司",
		zap.String("cik", company.CIK),
		zap.String("name", company.Name),
		zap.String("ticker", company.DisplayTicker()))
	return company, nil
}

func (s *Scanner) companyInfo(ctx context.Context, cik string) *edgar.CompanyInfo {
	info, err := s.feed.CompanyInfo(ctx, cik)
	if err != nil {
		s.logger.Warn("查询SEC公司信息失败，使用占位公司", zap.String("cik", cik), zap.Error(err))
		return nil
	}
	return info
}

// enqueue 事务提交后发布处理任务，失败时留给pending扫描
func (s *Scanner) enqueue(ctx context.Context, f *model.Filing) {
	if s.queue == nil {
		return
	}
	task := messaging.ProcessTask{FilingID: f.ID}
	if err := s.queue.Publish(ctx, messaging.SubjectProcess, task); err != nil {
		s.logger.Error("发布处理任务失败，等待pending扫描", zap.String("filing_id", f.ID), zap.Error(err))
	}
}

// validateEntry 入库前的字段检查
func validateEntry(e edgar.FeedEntry, supported map[string]bool, now time.Time) error {
	switch {
	case e.AccessionNumber == "", e.CIK == "", e.Form == "", e.FilingDate == "":
		return errs.Validation("entry", "缺少必填字段")
	case !edgar.ValidAccession(e.AccessionNumber):
		return errs.Validation("accession_number", fmt.Sprintf("格式错误: %s", e.AccessionNumber))
	case !edgar.ValidCIK(e.CIK):
		return errs.Validation("cik", fmt.Sprintf("格式错误: %s", e.CIK))
	case !supported[model.BaseForm(e.Form)]:
		return errs.Validation("form", fmt.Sprintf("不支持的表格类型: %s", e.Form))
	}
	date, err := time.Parse("2006-01-02", e.FilingDate)
	if err != nil {
		return errs.Validation("filing_date", fmt.Sprintf("日期格式错误: %s", e.FilingDate))
	}
	if date.After(now.Add(24 * time.Hour)) {
		return errs.Validation("filing_date", "申报日期在未来")
	}
	return nil
}
