package edgar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"FilingRadar/pkg/config"
	"FilingRadar/pkg/errs"
)

// 单个文档读取上限
const maxBodyBytes = 50 << 20

// Options SEC客户端参数
type Options struct {
	UserAgent     string
	BaseURL       string
	ArchivesURL   string
	DataURL       string
	RatePerSecond float64
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// OptionsFromConfig 从应用配置构建
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UserAgent:     cfg.SEC.UserAgent,
		BaseURL:       cfg.SEC.BaseURL,
		ArchivesURL:   cfg.SEC.ArchivesURL,
		DataURL:       cfg.SEC.DataURL,
		RatePerSecond: cfg.SEC.RatePerSecond,
		Timeout:       cfg.SEC.RequestTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// Client SEC EDGAR HTTP客户端，所有请求共享一个限速器
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient 创建SEC客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(opts.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst),
		logger:  logger,
	}
}

// ArchivesURL 归档根地址
func (c *Client) ArchivesURL() string {
	return c.opts.ArchivesURL
}

// Get 限速GET，429/503按Retry-After重试
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.RetryInterval
	policy := &hintedBackOff{BackOff: exp}

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("创建请求失败: %w", err))
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml,application/json;q=0.9,*/*;q=0.8")

		resp, err := c.http.Do(req)
		if err != nil {
			return errs.Transient("SEC请求", err)
		}
		defer resp.Body.Close()

		switch code := resp.StatusCode; {
		case code == http.StatusOK:
			body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return errs.Transient("读取SEC响应", err)
			}
			return nil
		case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
			if wait := retryAfter(resp.Header.Get("Retry-After")); wait > 0 {
				c.logger.Warn("SEC限流，等待后重试", zap.String("url", rawURL), zap.Duration("wait", wait))
				policy.hint = wait
			}
			return errs.Transient("SEC请求", fmt.Errorf("状态码 %d", code))
		case code == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", errs.ErrNotFound, rawURL))
		case code == http.StatusForbidden:
			return backoff.Permanent(errs.Configuration("SEC", fmt.Errorf("403 forbidden，检查User-Agent")))
		case code >= 500:
			return errs.Transient("SEC请求", fmt.Errorf("状态码 %d", code))
		default:
			return backoff.Permanent(fmt.Errorf("SEC返回状态码 %d: %s", code, rawURL))
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.MaxRetries)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		c.logger.Debug("SEC请求重试", zap.String("url", rawURL), zap.Duration("delay", d), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// hintedBackOff 服务端给出Retry-After时用它代替下一次指数间隔，只生效一次
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h.hint > 0 {
		next, h.hint = h.hint, 0
	}
	return next
}

// retryAfter 解析Retry-After秒数，上限60秒
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	if n > 60 {
		n = 60
	}
	return time.Duration(n) * time.Second
}
