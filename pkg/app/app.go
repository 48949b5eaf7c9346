// Package app 组装各命令共用的依赖
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"FilingRadar/pkg/analysis"
	"FilingRadar/pkg/cache"
	"FilingRadar/pkg/config"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/downloader"
	"FilingRadar/pkg/edgar"
	"FilingRadar/pkg/estimates"
	"FilingRadar/pkg/extractor"
	"FilingRadar/pkg/llm"
	"FilingRadar/pkg/logger"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/monitor"
	"FilingRadar/pkg/tasks"
)

// Deps 进程内共享的服务对象
type Deps struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *database.DB
	Cache  *cache.Cache
	NATS   *messaging.NATSClient
	SEC    *edgar.Client
}

// LoadConfig 按CONFIG_PATH或默认路径加载配置并创建日志
func LoadConfig() (*config.Config, *zap.Logger, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	log, err := logger.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志失败: %w", err)
	}
	return cfg, log, nil
}

// Open 连接数据库、Redis，withNATS为true时连接NATS
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger, withNATS bool) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: log}

	db, err := database.NewDB(cfg, log)
	if err != nil {
		return nil, err
	}
	d.DB = db
	if err := db.AutoMigrate(); err != nil {
		d.Close()
		return nil, err
	}

	c, err := cache.New(cfg.Redis.URL, cfg.Redis.DefaultTTL, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Cache = c

	if withNATS {
		nc, err := messaging.NewNATSClient(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.MaxDeliver, log)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.NATS = nc
	}

	d.SEC = edgar.NewClient(edgar.OptionsFromConfig(cfg), log)
	return d, nil
}

// Close 按创建的逆序关闭
func (d *Deps) Close() {
	var errs []error
	if d.NATS != nil {
		errs = append(errs, d.NATS.Close())
	}
	if d.Cache != nil {
		errs = append(errs, d.Cache.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		d.Logger.Warn("关闭资源时出错", zap.Error(err))
	}
	_ = d.Logger.Sync()
}

// Publisher 没有NATS时返回nil
func (d *Deps) Publisher() messaging.Publisher {
	if d.NATS == nil {
		return nil
	}
	return d.NATS
}

// Estimates FMP客户端，未启用时返回nil
func (d *Deps) Estimates() *estimates.Client {
	if !d.Config.Features.Estimates || d.Config.Estimates.FMPAPIKey == "" {
		return nil
	}
	return estimates.NewFromConfig(d.Config, d.Cache, d.Logger)
}

// Pipeline 创建filing处理流水线。AI处理开启但LLM配置无效时返回错误
func (d *Deps) Pipeline(ctx context.Context) (*tasks.Pipeline, error) {
	cfg := d.Config
	ext := extractor.New(d.Logger)
	dl := downloader.NewDownloader(d.SEC, cfg.SEC.ArchivesURL, cfg.SEC.DataDir, cfg.Worker.MaxConcurrentDownloads, d.Logger)

	var analyzer tasks.Analyzer
	if cfg.Features.AIProcessing {
		completer, err := llm.New(ctx, llm.OptionsFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		var est analysis.EstimatesProvider
		if client := d.Estimates(); client != nil {
			est = client
		}
		analyzer = analysis.NewProcessor(completer, ext, est, analysis.Options{
			ContentLimit: cfg.LLM.ContentLimit,
			Temperature:  cfg.LLM.Temperature,
			Estimates:    cfg.Features.Estimates,
		}, d.Logger)
	}

	var inv tasks.Invalidator
	if d.Cache != nil {
		inv = d.Cache
	}
	return tasks.NewPipeline(d.DB, dl, ext, analyzer, inv, d.Publisher(), tasks.OptionsFromConfig(cfg), d.Logger), nil
}

// Enqueuer 只用于入队和扫描的流水线，不创建下载器和LLM客户端
func (d *Deps) Enqueuer() *tasks.Pipeline {
	var inv tasks.Invalidator
	if d.Cache != nil {
		inv = d.Cache
	}
	return tasks.NewPipeline(d.DB, nil, nil, nil, inv, d.Publisher(), tasks.OptionsFromConfig(d.Config), d.Logger)
}

// Monitor 注册数据库、Redis、NATS和SEC探测
func (d *Deps) Monitor() *monitor.Monitor {
	mon := monitor.NewMonitor(d.Logger, nil)
	mon.Register("database", d.DB.Ping)
	if d.Cache != nil {
		mon.Register("redis", d.Cache.Ping)
	}
	if d.NATS != nil {
		nc := d.NATS
		mon.Register("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("NATS未连接")
			}
			return nil
		})
	}
	mon.Register("sec", monitor.HTTPCheck(nil, d.Config.SEC.BaseURL, d.Config.SEC.UserAgent))
	if d.Config.Features.AIProcessing {
		key := d.Config.LLM.APIKey
		mon.Register("llm", func(context.Context) error {
			if key == "" {
				return errors.New("LLM API key未配置")
			}
			return nil
		})
	}
	return mon
}

// MonitorInterval 健康检查间隔
const MonitorInterval = 30 * time.Second
