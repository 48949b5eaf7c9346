// Package earnings 同步监控公司的财报日历
package earnings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"FilingRadar/pkg/cache"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/estimates"
	"FilingRadar/pkg/model"
)

const (
	horizonDays   = 90
	windowDays    = 30
	upcomingLimit = 100
	dateLayout    = "2006-01-02"
)

// CalendarProvider 财报日历数据源
type CalendarProvider interface {
	Calendar(ctx context.Context, from, to time.Time) ([]estimates.Estimate, error)
}

// Cache 财报相关的缓存操作
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Service 财报日历服务
type Service struct {
	db       *database.DB
	provider CalendarProvider
	cache    Cache
	logger   *zap.Logger
	now      func() time.Time
}

// NewService 创建财报日历服务，cache可为nil
func NewService(db *database.DB, provider CalendarProvider, c Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, provider: provider, cache: c, logger: logger, now: time.Now}
}

// Refresh 拉取未来90天的财报日历并按 (company_id, earnings_date) 写入，返回写入条数
func (s *Service) Refresh(ctx context.Context) (int, error) {
	companies, err := s.db.Company().ListMonitored(ctx)
	if err != nil {
		return 0, err
	}
	if len(companies) == 0 {
		s.logger.Info("没有需要同步财报日历的公司")
		return 0, nil
	}
	byTicker := lo.SliceToMap(companies, func(c *model.Company) (string, *model.Company) {
		return strings.ToUpper(*c.Ticker), c
	})

	events, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	grouped := lo.GroupBy(events, func(e estimates.Estimate) string { return strings.ToUpper(e.Symbol) })

	count := 0
	for ticker, evs := range grouped {
		company, ok := byTicker[ticker]
		if !ok {
			continue
		}
		for _, ev := range evs {
			entry, ok := toEntry(company.ID, ev)
			if !ok {
				continue
			}
			if err := s.db.Earnings().Upsert(ctx, entry); err != nil {
				s.logger.Warn("写入财报日历失败", zap.String("ticker", ticker), zap.String("date", ev.Date), zap.Error(err))
				continue
			}
			count++
		}
	}

	if s.cache != nil {
		if _, err := s.cache.DeletePattern(ctx, "earnings:*"); err != nil {
			s.logger.Warn("清理财报缓存失败", zap.Error(err))
		}
	}
	s.logger.Info("财报日历同步完成", zap.Int("companies", len(companies)), zap.Int("entries", count))
	return count, nil
}

// fetch 按30天窗口并发拉取，合并后去重
func (s *Service) fetch(ctx context.Context) ([]estimates.Estimate, error) {
	start := truncateDay(s.now())
	end := start.AddDate(0, 0, horizonDays)

	var (
		mu  sync.Mutex
		all []estimates.Estimate
	)
	g, gctx := errgroup.WithContext(ctx)
	for from := start; from.Before(end); from = from.AddDate(0, 0, windowDays) {
		to := lo.MinBy([]time.Time{from.AddDate(0, 0, windowDays-1), end}, func(a, b time.Time) bool { return a.Before(b) })
		g.Go(func() error {
			evs, err := s.provider.Calendar(gctx, from, to)
			if err != nil {
				return fmt.Errorf("获取财报日历 %s~%s 失败: %w", from.Format(dateLayout), to.Format(dateLayout), err)
			}
			mu.Lock()
			all = append(all, evs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lo.UniqBy(all, func(e estimates.Estimate) string { return strings.ToUpper(e.Symbol) + "|" + e.Date }), nil
}

func toEntry(companyID string, ev estimates.Estimate) (*model.EarningsCalendar, bool) {
	when, hasClock, ok := parseEventDate(ev.Date)
	if !ok {
		return nil, false
	}
	quarter := (int(when.Month())-1)/3 + 1
	return &model.EarningsCalendar{
		CompanyID:       companyID,
		EarningsDate:    truncateDay(when),
		EarningsTime:    TimeOfDay(ev.Time, when, hasClock),
		FiscalQuarter:   fmt.Sprintf("Q%d %d", quarter, when.Year()),
		FiscalYear:      when.Year(),
		EPSEstimate:     floatPtr(ev.EPSEstimate.Valid, ev.EPSEstimate.Decimal.InexactFloat64()),
		RevenueEstimate: floatPtr(ev.RevenueEstimate.Valid, ev.RevenueEstimate.Decimal.InexactFloat64()),
		EPSActual:       floatPtr(ev.EPSActual.Valid, ev.EPSActual.Decimal.InexactFloat64()),
		RevenueActual:   floatPtr(ev.RevenueActual.Valid, ev.RevenueActual.Decimal.InexactFloat64()),
		Source:          "fmp",
	}, true
}

// TimeOfDay 数据源给出bmo/amc时直接使用，否则按小时判断：9点前BMO，16点及以后AMC
func TimeOfDay(provider string, when time.Time, hasClock bool) model.EarningsTime {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "bmo":
		return model.EarningsBMO
	case "amc":
		return model.EarningsAMC
	}
	if !hasClock {
		return model.EarningsTNS
	}
	switch h := when.Hour(); {
	case h < 9:
		return model.EarningsBMO
	case h >= 16:
		return model.EarningsAMC
	}
	return model.EarningsTNS
}

func parseEventDate(s string) (time.Time, bool, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true, true
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, false, true
	}
	return time.Time{}, false, false
}

// Upcoming 未来days天内的财报，结果缓存1小时
func (s *Service) Upcoming(ctx context.Context, days int) ([]*model.EarningsCalendar, error) {
	if days <= 0 {
		days = 7
	}
	key := cache.UpcomingEarningsKey(days)
	var cached []*model.EarningsCalendar
	if s.cache != nil && s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	from := truncateDay(s.now())
	entries, err := s.db.Earnings().Upcoming(ctx, from, from.AddDate(0, 0, days), upcomingLimit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, key, entries, cache.TTLEarnings)
	}
	return entries, nil
}

func floatPtr(valid bool, v float64) *float64 {
	if !valid {
		return nil
	}
	return &v
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
