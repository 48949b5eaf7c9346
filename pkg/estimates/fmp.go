// Package estimates 从Financial Modeling Prep获取分析师预期和财报日历
package estimates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FilingRadar/pkg/config"
	"FilingRadar/pkg/errs"
)

const (
	dateLayout      = "2006-01-02"
	historicalLimit = 40

	SourceEarningCalendar  = "earning_calendar"
	SourceAnalystEstimates = "analyst_estimates"
)

// JSONCache 估值结果缓存，可为nil
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool
}

// Estimate 一个财报期的预期和实际值，金额单位为美元
type Estimate struct {
	Symbol           string              `json:"symbol"`
	Date             string              `json:"date"`
	FiscalDateEnding string              `json:"fiscal_date_ending,omitempty"`
	Time             string              `json:"time,omitempty"`
	EPSEstimate      decimal.NullDecimal `json:"eps_estimate"`
	RevenueEstimate  decimal.NullDecimal `json:"revenue_estimate"`
	EPSActual        decimal.NullDecimal `json:"eps_actual"`
	RevenueActual    decimal.NullDecimal `json:"revenue_actual"`
	Source           string              `json:"source"`
}

// HasEstimate 至少有一项预期
func (e *Estimate) HasEstimate() bool {
	return e != nil && (e.EPSEstimate.Valid || e.RevenueEstimate.Valid)
}

// EPSSurprise EPS超预期百分比
func (e *Estimate) EPSSurprise() (decimal.Decimal, bool) {
	return surprise(e.EPSActual, e.EPSEstimate)
}

// RevenueSurprise 营收超预期百分比
func (e *Estimate) RevenueSurprise() (decimal.Decimal, bool) {
	return surprise(e.RevenueActual, e.RevenueEstimate)
}

func surprise(actual, estimate decimal.NullDecimal) (decimal.Decimal, bool) {
	if !actual.Valid || !estimate.Valid || estimate.Decimal.IsZero() {
		return decimal.Zero, false
	}
	pct := actual.Decimal.Sub(estimate.Decimal).
		Div(estimate.Decimal.Abs()).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return pct, true
}

type fmpEvent struct {
	Date             string              `json:"date"`
	Symbol           string              `json:"symbol"`
	EPS              decimal.NullDecimal `json:"eps"`
	EPSEstimated     decimal.NullDecimal `json:"epsEstimated"`
	Time             string              `json:"time"`
	Revenue          decimal.NullDecimal `json:"revenue"`
	RevenueEstimated decimal.NullDecimal `json:"revenueEstimated"`
	FiscalDateEnding string              `json:"fiscalDateEnding"`
}

func (ev fmpEvent) hasEstimate() bool {
	return ev.EPSEstimated.Valid || ev.RevenueEstimated.Valid
}

func (ev fmpEvent) toEstimate() *Estimate {
	return &Estimate{
		Symbol:           ev.Symbol,
		Date:             ev.Date,
		FiscalDateEnding: ev.FiscalDateEnding,
		Time:             strings.ToLower(ev.Time),
		EPSEstimate:      ev.EPSEstimated,
		RevenueEstimate:  ev.RevenueEstimated,
		EPSActual:        ev.EPS,
		RevenueActual:    ev.Revenue,
		Source:           SourceEarningCalendar,
	}
}

type analystEstimate struct {
	Symbol              string              `json:"symbol"`
	Date                string              `json:"date"`
	EstimatedRevenueAvg decimal.NullDecimal `json:"estimatedRevenueAvg"`
	EstimatedEpsAvg     decimal.NullDecimal `json:"estimatedEpsAvg"`
}

// Client FMP API客户端
type Client struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
	Client   *http.Client

	cache  JSONCache
	logger *zap.Logger
}

// NewClient 创建新的FMP客户端
func NewClient(apiKey, baseURL string, cacheTTL time.Duration, cache JSONCache, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://financialmodelingprep.com/api/v3"
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		APIKey:   apiKey,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		CacheTTL: cacheTTL,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  cache,
		logger: logger,
	}
}

// NewFromConfig 从应用配置创建
func NewFromConfig(cfg *config.Config, cache JSONCache, logger *zap.Logger) *Client {
	return NewClient(cfg.Estimates.FMPAPIKey, cfg.Estimates.BaseURL, cfg.Estimates.CacheTTL, cache, logger)
}

// QuarterEstimates 按期末日期匹配季度预期，找不到时用年度预期除以4
func (c *Client) QuarterEstimates(ctx context.Context, ticker string, periodEnd time.Time) (*Estimate, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, errs.Validation("ticker", "为空")
	}

	key := fmt.Sprintf("fmp:estimates:%s:%s", ticker, periodEnd.Format(dateLayout))
	var cached Estimate
	if c.cache != nil && c.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	var events []fmpEvent
	q := url.Values{"limit": {fmt.Sprint(historicalLimit)}}
	if err := c.get(ctx, "/historical/earning_calendar/"+ticker, q, &events); err != nil {
		return nil, err
	}

	var est *Estimate
	if ev, diff, ok := matchEvent(events, periodEnd); ok {
		c.logger.Debug("匹配到财报预期", zap.String("ticker", ticker), zap.String("date", ev.Date), zap.Int("diff_days", diff))
		est = ev.toEstimate()
	} else {
		c.logger.Info("季度预期缺失，使用年度预期", zap.String("ticker", ticker), zap.Time("period_end", periodEnd))
		est, _ = c.annualFallback(ctx, ticker, periodEnd)
	}
	if est == nil {
		return nil, fmt.Errorf("%s 在 %s 附近没有分析师预期: %w", ticker, periodEnd.Format(dateLayout), errs.ErrNotFound)
	}

	if c.cache != nil {
		c.cache.SetJSON(ctx, key, est, c.CacheTTL)
	}
	return est, nil
}

// matchEvent 期末日在月底时找之后0-45天的财报，否则前后30天，仍无则放宽到60天
func matchEvent(events []fmpEvent, target time.Time) (fmpEvent, int, bool) {
	target = truncateDay(target)
	periodEnd := target.Day() >= 25

	best, bestDiff, found := fmpEvent{}, 0, false
	consider := func(accept func(diff int) bool) {
		for _, ev := range events {
			if ev.Date == "" || !ev.hasEstimate() {
				continue
			}
			d, err := time.Parse(dateLayout, ev.Date)
			if err != nil {
				continue
			}
			diff := int(d.Sub(target).Hours() / 24)
			if !accept(diff) {
				continue
			}
			if !found || abs(diff) < bestDiff {
				best, bestDiff, found = ev, abs(diff), true
			}
		}
	}

	consider(func(diff int) bool {
		if periodEnd {
			return diff >= 0 && diff <= 45
		}
		return abs(diff) <= 30
	})
	if !found {
		consider(func(diff int) bool { return abs(diff) <= 60 })
	}
	return best, bestDiff, found
}

func (c *Client) annualFallback(ctx context.Context, ticker string, periodEnd time.Time) (*Estimate, error) {
	var annual []analystEstimate
	if err := c.get(ctx, "/analyst-estimates/"+ticker, url.Values{"limit": {"10"}}, &annual); err != nil {
		c.logger.Warn("获取年度预期失败", zap.String("ticker", ticker), zap.Error(err))
		return nil, err
	}

	four := decimal.NewFromInt(4)
	var (
		best     *analystEstimate
		bestDiff time.Duration
	)
	for i := range annual {
		a := &annual[i]
		d, err := time.Parse(dateLayout, a.Date)
		if err != nil || d.Before(periodEnd) {
			continue
		}
		if diff := d.Sub(periodEnd); best == nil || diff < bestDiff {
			best, bestDiff = a, diff
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}

	est := &Estimate{Symbol: ticker, Date: best.Date, FiscalDateEnding: best.Date, Source: SourceAnalystEstimates}
	if best.EstimatedEpsAvg.Valid {
		est.EPSEstimate = decimal.NewNullDecimal(best.EstimatedEpsAvg.Decimal.Div(four).Round(2))
	}
	if best.EstimatedRevenueAvg.Valid {
		est.RevenueEstimate = decimal.NewNullDecimal(best.EstimatedRevenueAvg.Decimal.Div(four).Round(0))
	}
	if !est.HasEstimate() {
		return nil, errs.ErrNotFound
	}
	return est, nil
}

// Calendar 指定日期区间内的财报日历
func (c *Client) Calendar(ctx context.Context, from, to time.Time) ([]Estimate, error) {
	fromS, toS := from.Format(dateLayout), to.Format(dateLayout)
	key := fmt.Sprintf("fmp:calendar:%s:%s", fromS, toS)

	var out []Estimate
	if c.cache != nil && c.cache.GetJSON(ctx, key, &out) {
		return out, nil
	}

	var events []fmpEvent
	if err := c.get(ctx, "/earning_calendar", url.Values{"from": {fromS}, "to": {toS}}, &events); err != nil {
		return nil, err
	}
	out = make([]Estimate, 0, len(events))
	for _, ev := range events {
		if ev.Symbol == "" || ev.Date == "" {
			continue
		}
		out = append(out, *ev.toEstimate())
	}

	if c.cache != nil {
		c.cache.SetJSON(ctx, key, out, c.CacheTTL)
	}
	return out, nil
}

// get 执行GET请求并解析JSON
func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	if c.APIKey == "" {
		return errs.Configuration("fmp", errors.New("未配置FMP_API_KEY"))
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("apikey", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return errs.Transient("fmp请求", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Transient("读取fmp响应", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.Configuration("fmp", fmt.Errorf("API返回 %d: %s", resp.StatusCode, snippet(body)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errs.Transient("fmp", fmt.Errorf("API返回 %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API返回非200状态码: %d", resp.StatusCode)
	}

	// 错误时FMP返回 {"Error Message": "..."}
	var apiErr struct {
		Message string `json:"Error Message"`
	}
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "{") && json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		if errs.ClassifyMessage(apiErr.Message) == errs.KindConfiguration {
			return errs.Configuration("fmp", errors.New(apiErr.Message))
		}
		return fmt.Errorf("API返回错误: %s", apiErr.Message)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
