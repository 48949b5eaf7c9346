package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"FilingRadar/pkg/analysis"
	"FilingRadar/pkg/cache"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
	"FilingRadar/pkg/monitor"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	companyListSize = 1000
	popularSize     = 10
)

// EarningsLister 即将发布的财报
type EarningsLister interface {
	Upcoming(ctx context.Context, days int) ([]*model.EarningsCalendar, error)
}

// Reprocessor 人工重处理
type Reprocessor interface {
	Reprocess(ctx context.Context, id string) error
}

// Handlers API处理程序
type Handlers struct {
	db          *database.DB
	cache       *cache.Cache
	earnings    EarningsLister
	reprocessor Reprocessor
	monitor     *monitor.Monitor
	logger      *zap.Logger
}

// NewHandlers 创建新的API处理程序，cache/earnings/reprocessor/monitor都可为nil
func NewHandlers(
	db *database.DB,
	c *cache.Cache,
	earnings EarningsLister,
	reprocessor Reprocessor,
	mon *monitor.Monitor,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		db:          db,
		cache:       c,
		earnings:    earnings,
		reprocessor: reprocessor,
		monitor:     mon,
		logger:      logger,
	}
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// ReadinessCheck 就绪检查处理程序
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	code, status := http.StatusOK, "ready"
	if !h.monitor.Ready() {
		code, status = http.StatusServiceUnavailable, "not_ready"
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": h.monitor.GetAllStatus(),
	})
}

// FilingDetail filing详情，附带渲染后的分析
type FilingDetail struct {
	*model.Filing
	AnalysisHTML string `json:"analysis_html,omitempty"`
}

// ListFilings filing列表，支持ticker/type/status过滤
func (h *Handlers) ListFilings(c *gin.Context) {
	// 获取请求参数
	limit, offset := pagination(c)
	params := map[string]string{
		"ticker": strings.ToUpper(strings.TrimSpace(c.Query("ticker"))),
		"type":   strings.ToUpper(strings.TrimSpace(c.Query("type"))),
		"status": strings.ToLower(strings.TrimSpace(c.Query("status"))),
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	}

	type page struct {
		Data   []*model.Filing `json:"data"`
		Total  int64           `json:"total"`
		Limit  int             `json:"limit"`
		Offset int             `json:"offset"`
	}
	key := cache.FilingListKey(params)
	var cached page
	if h.getCached(c, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	filings, total, err := h.db.Filing().List(c.Request.Context(), database.FilingQuery{
		Ticker:     params["ticker"],
		FilingType: params["type"],
		Status:     params["status"],
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.serverError(c, "查询filing列表失败", err)
		return
	}

	resp := page{Data: filings, Total: total, Limit: limit, Offset: offset}
	h.setCached(c, key, resp, cache.TTLFilingList)
	c.JSON(http.StatusOK, resp)
}

// GetFiling filing详情，每次访问计入浏览量
func (h *Handlers) GetFiling(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	h.countView(ctx, id)

	key := cache.FilingDetailKey(id)
	var cached FilingDetail
	if h.getCached(c, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	filing, err := h.db.Filing().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "filing不存在"})
			return
		}
		h.serverError(c, "查询filing失败", err)
		return
	}

	detail := FilingDetail{Filing: filing}
	if filing.UnifiedAnalysis != "" {
		rendered, err := analysis.RenderHTML(filing.UnifiedAnalysis)
		if err != nil {
			h.logger.Warn("渲染分析失败", zap.String("filing_id", id), zap.Error(err))
		}
		detail.AnalysisHTML = rendered
	}

	// 未完成的filing状态还会变化
	if filing.Status.IsTerminal() {
		h.setCached(c, key, detail, cache.TTLFilingDetail)
	}
	c.JSON(http.StatusOK, detail)
}

// ReprocessFiling 重置并重新入队
func (h *Handlers) ReprocessFiling(c *gin.Context) {
	if h.reprocessor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "任务队列不可用"})
		return
	}
	id := c.Param("id")
	err := h.reprocessor.Reprocess(c.Request.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "filing不存在"})
		return
	case errs.KindOf(err) == errs.KindValidation:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		h.serverError(c, "提交重处理失败", err)
		return
	}

	if h.cache != nil {
		h.cache.Delete(c.Request.Context(), cache.FilingDetailKey(id))
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "queued",
		"filing_id": id,
	})
}

// ListCompanies 公司列表
func (h *Handlers) ListCompanies(c *gin.Context) {
	key := cache.CompanyListKey()
	var cached []*model.Company
	if h.getCached(c, key, &cached) {
		c.JSON(http.StatusOK, gin.H{"data": cached, "total": len(cached)})
		return
	}

	companies, err := h.db.Company().List(c.Request.Context(), companyListSize, 0)
	if err != nil {
		h.serverError(c, "查询公司列表失败", err)
		return
	}
	h.setCached(c, key, companies, cache.TTLCompanyList)
	c.JSON(http.StatusOK, gin.H{"data": companies, "total": len(companies)})
}

// CompanyDetail 公司及其最近的filing和财报日期
type CompanyDetail struct {
	*model.Company
	DisplayTicker string                    `json:"display_ticker"`
	RecentFilings []*model.Filing           `json:"recent_filings"`
	Earnings      []*model.EarningsCalendar `json:"earnings"`
}

// GetCompany 公司详情
func (h *Handlers) GetCompany(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	key := cache.CompanyDetailKey(id)
	var cached CompanyDetail
	if h.getCached(c, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	company, err := h.db.Company().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "公司不存在"})
			return
		}
		h.serverError(c, "查询公司失败", err)
		return
	}
	filings, _, err := h.db.Filing().List(ctx, database.FilingQuery{CompanyID: id, Limit: 10})
	if err != nil {
		h.serverError(c, "查询公司filing失败", err)
		return
	}
	earnings, err := h.db.Earnings().ByCompany(ctx, id, 8)
	if err != nil {
		h.serverError(c, "查询公司财报日历失败", err)
		return
	}

	detail := CompanyDetail{
		Company:       company,
		DisplayTicker: company.DisplayTicker(),
		RecentFilings: filings,
		Earnings:      earnings,
	}
	h.setCached(c, key, detail, cache.TTLCompanyDetail)
	c.JSON(http.StatusOK, detail)
}

// UpcomingEarnings 未来days天内的财报
func (h *Handlers) UpcomingEarnings(c *gin.Context) {
	if h.earnings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "财报日历不可用"})
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 || days > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days必须在1到90之间"})
		return
	}

	entries, err := h.earnings.Upcoming(c.Request.Context(), days)
	if err != nil {
		h.serverError(c, "查询财报日历失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "days": days})
}

var popularPeriods = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
}

// PopularFilings 一段时间内浏览量最高的filing
func (h *Handlers) PopularFilings(c *gin.Context) {
	period := c.DefaultQuery("period", "week")
	window, ok := popularPeriods[period]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period只能是day、week或month"})
		return
	}

	key := cache.PopularKey(period)
	var cached []*model.Filing
	if h.getCached(c, key, &cached) {
		c.JSON(http.StatusOK, gin.H{"data": cached, "period": period})
		return
	}

	filings, err := h.db.Filing().Popular(c.Request.Context(), time.Now().Add(-window), popularSize)
	if err != nil {
		h.serverError(c, "查询热门filing失败", err)
		return
	}
	h.setCached(c, key, filings, cache.TTLPopular)
	c.JSON(http.StatusOK, gin.H{"data": filings, "period": period})
}

// countView 浏览量写入redis计数器和数据库，失败不影响响应
func (h *Handlers) countView(ctx context.Context, id string) {
	if h.cache != nil {
		if _, err := h.cache.Increment(ctx, cache.ViewsKey(id), cache.TTLViews); err != nil {
			h.logger.Debug("浏览计数失败", zap.String("filing_id", id), zap.Error(err))
		}
	}
	if err := h.db.Filing().IncrementViews(ctx, id, 1); err != nil {
		h.logger.Debug("更新浏览量失败", zap.String("filing_id", id), zap.Error(err))
	}
}

func (h *Handlers) getCached(c *gin.Context, key string, dst any) bool {
	if h.cache == nil {
		return false
	}
	return h.cache.GetJSON(c.Request.Context(), key, dst)
}

func (h *Handlers) setCached(c *gin.Context, key string, v any, ttl time.Duration) {
	if h.cache != nil {
		h.cache.SetJSON(c.Request.Context(), key, v, ttl)
	}
}

func (h *Handlers) serverError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": msg,
	})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
