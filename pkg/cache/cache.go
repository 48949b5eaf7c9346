// Package cache 基于Redis的读路径缓存和计数器
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"FilingRadar/pkg/model"
)

const (
	TTLFilingList    = 5 * time.Minute
	TTLFilingDetail  = time.Hour
	TTLCompanyList   = time.Hour
	TTLCompanyDetail = time.Hour
	TTLPopular       = 10 * time.Minute
	TTLEarnings      = time.Hour
	TTLViews         = 30 * 24 * time.Hour

	scanBatch = 200
)

// Cache Redis缓存，所有错误都只记录日志，调用方按未命中处理
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

// New 根据redis URL创建缓存
func New(url string, defaultTTL time.Duration, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("解析Redis URL失败: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), defaultTTL, logger), nil
}

// NewWithClient 使用已有客户端
func NewWithClient(client *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, defaultTTL: defaultTTL, logger: logger}
}

// Ping 检查连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Cache) Close() error {
	return c.client.Close()
}

// GetJSON 读取并反序列化，未命中或出错返回false
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("缓存读取失败", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		c.logger.Warn("缓存反序列化失败", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SetJSON 序列化写入，ttl为0时使用默认值
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("缓存序列化失败", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("缓存写入失败", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Delete 删除单个key
func (c *Cache) Delete(ctx context.Context, key string) bool {
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		c.logger.Warn("缓存删除失败", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// DeletePattern 用SCAN遍历匹配的key并删除，返回删除数量
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("扫描缓存key失败: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("批量删除缓存失败: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Increment 计数器加一，首次创建时设置过期时间
func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("计数器自增失败: %w", err)
	}
	if n == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			c.logger.Warn("设置计数器过期时间失败", zap.String("key", key), zap.Error(err))
		}
	}
	return n, nil
}

// TTL 剩余过期时间，不存在或无过期时为0
func (c *Cache) TTL(ctx context.Context, key string) time.Duration {
	d, err := c.client.TTL(ctx, key).Result()
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// InvalidateFiling 删除与filing相关的所有缓存
func (c *Cache) InvalidateFiling(ctx context.Context, f *model.Filing) error {
	var errs []error

	c.Delete(ctx, FilingDetailKey(f.ID))
	for _, pattern := range []string{"filings:list:*", "stats:popular:*"} {
		if _, err := c.DeletePattern(ctx, pattern); err != nil {
			errs = append(errs, err)
		}
	}
	if f.CompanyID != "" {
		c.Delete(ctx, CompanyDetailKey(f.CompanyID))
	}
	if f.Ticker != "" {
		c.Delete(ctx, EarningsKey(f.Ticker))
	}

	c.logger.Debug("已清理filing缓存", zap.String("accession", f.AccessionNumber))
	return errors.Join(errs...)
}

// FilingListKey 参数排序后取md5
func FilingListKey(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+params[k])
	}
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return "filings:list:" + hex.EncodeToString(sum[:])
}

func FilingDetailKey(id string) string  { return "filings:detail:" + id }
func CompanyDetailKey(id string) string { return "companies:detail:" + id }
func CompanyListKey() string            { return "companies:list:all" }
func PopularKey(period string) string   { return "stats:popular:" + period }
func ViewsKey(id string) string         { return "stats:views:" + id }
func EarningsKey(ticker string) string  { return "earnings:" + strings.ToUpper(ticker) }

// UpcomingEarningsKey 即将发布财报列表
func UpcomingEarningsKey(days int) string {
	return fmt.Sprintf("earnings:upcoming:%d", days)
}
