// Package scheduler 按固定节奏驱动扫描、财报日历同步和pending/failed扫描
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"FilingRadar/pkg/config"
	"FilingRadar/pkg/model"
)

// Scanner 扫描新申报
type Scanner interface {
	Scan(ctx context.Context) ([]*model.Filing, error)
}

// Sweeper 重新发布积压或失败的filing
type Sweeper interface {
	SweepPending(ctx context.Context, batch int) (int, error)
	RetryFailed(ctx context.Context, batch int) (int, error)
}

// EarningsRefresher 财报日历同步
type EarningsRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Options 调度参数
type Options struct {
	ScanInterval  time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	EarningsHour  int
	EarningsSync  bool
}

// OptionsFromConfig 从应用配置生成调度参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScanInterval:  cfg.Scheduler.ScanInterval,
		SweepInterval: cfg.Scheduler.SweepInterval,
		SweepBatch:    cfg.Scheduler.SweepBatch,
		EarningsHour:  cfg.Scheduler.EarningsHour,
		EarningsSync:  cfg.Features.EarningsSync,
	}
}

// Scheduler 任务调度器，同一任务不会重叠执行
type Scheduler struct {
	cron     *cron.Cron
	scanner  Scanner
	sweeper  Sweeper
	earnings EarningsRefresher
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	lastEarningsSync string
}

// NewScheduler 创建任务调度器，sweeper和earnings可为nil
func NewScheduler(scanner Scanner, sweeper Sweeper, earnings EarningsRefresher, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 20
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		scanner:  scanner,
		sweeper:  sweeper,
		earnings: earnings,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Start 立即执行一次扫描，然后注册定时任务
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	scan := s.wrap(s.runScan)
	if _, err := s.cron.AddJob(every(s.opts.ScanInterval), scan); err != nil {
		return fmt.Errorf("注册扫描任务失败: %w", err)
	}
	if s.earnings != nil && s.opts.EarningsSync {
		if _, err := s.cron.AddJob("0 0 * * * *", s.wrap(s.runEarningsCheck)); err != nil {
			return fmt.Errorf("注册财报同步任务失败: %w", err)
		}
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddJob(every(s.opts.SweepInterval), s.wrap(s.runSweep)); err != nil {
			return fmt.Errorf("注册pending扫描任务失败: %w", err)
		}
		if _, err := s.cron.AddJob(every(s.opts.SweepInterval), s.wrap(s.runRetry)); err != nil {
			return fmt.Errorf("注册失败重试任务失败: %w", err)
		}
	}

	s.cron.Start()
	go scan.Run()

	s.logger.Info("调度器已启动",
		zap.Duration("scan_interval", s.opts.ScanInterval),
		zap.Duration("sweep_interval", s.opts.SweepInterval),
		zap.Int("earnings_hour", s.opts.EarningsHour))
	return nil
}

// Stop 停止调度器并等待正在执行的任务
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("调度器已停止")
}

// wrap 包装成带有恢复和跳过重叠的任务，立即执行和定时执行共用同一个包装
func (s *Scheduler) wrap(fn func(context.Context)) cron.Job {
	cl := cronLogger{s.logger.Sugar()}
	return cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		fn(s.ctx)
	}))
}

func (s *Scheduler) runScan(ctx context.Context) {
	start := time.Now()
	created, err := s.scanner.Scan(ctx)
	if err != nil {
		s.logger.Error("扫描失败", zap.Error(err))
		return
	}
	s.logger.Debug("扫描结束", zap.Int("created", len(created)), zap.Duration("elapsed", time.Since(start)))
}

func (s *Scheduler) runEarningsCheck(ctx context.Context) {
	s.CheckEarnings(ctx)
}

// CheckEarnings 每天到达earnings_hour后同步一次财报日历，返回是否执行了同步
func (s *Scheduler) CheckEarnings(ctx context.Context) bool {
	if s.earnings == nil {
		return false
	}
	now := s.now()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	due := s.lastEarningsSync != today && now.Hour() >= s.opts.EarningsHour
	s.mu.Unlock()
	if !due {
		return false
	}

	s.logger.Info("开始同步财报日历", zap.String("date", today))
	n, err := s.earnings.Refresh(ctx)
	if err != nil {
		s.logger.Error("财报日历同步失败，下个小时重试", zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.lastEarningsSync = today
	s.mu.Unlock()
	s.logger.Info("财报日历同步完成", zap.Int("entries", n))
	return true
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.sweeper.SweepPending(ctx, s.opts.SweepBatch); err != nil {
		s.logger.Error("pending扫描失败", zap.Error(err))
	}
}

func (s *Scheduler) runRetry(ctx context.Context) {
	if _, err := s.sweeper.RetryFailed(ctx, s.opts.SweepBatch); err != nil {
		s.logger.Error("失败重试扫描失败", zap.Error(err))
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger 将cron日志接到zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
