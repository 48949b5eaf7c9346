package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"FilingRadar/pkg/app"
	"FilingRadar/pkg/earnings"
	"FilingRadar/pkg/scanner"
	"FilingRadar/pkg/scheduler"
)

func main() {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("启动调度器失败: %v\n", err)
	}
	logger.Info("启动申报调度器...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("初始化依赖失败", zap.Error(err))
	}
	defer deps.Close()

	// 加载成分股快照，缺失时只监控数据库中的公司
	universe, err := scanner.LoadUniverse(cfg.SEC.SnapshotPath)
	if err != nil {
		logger.Error("加载S&P 500快照失败", zap.String("path", cfg.SEC.SnapshotPath), zap.Error(err))
	} else {
		logger.Info("已加载S&P 500快照", zap.Int("companies", universe.Len()))
	}
	scan := scanner.NewScanner(deps.DB, deps.SEC, deps.Publisher(), universe, scanner.OptionsFromConfig(cfg), logger)

	var refresher scheduler.EarningsRefresher
	if est := deps.Estimates(); est != nil {
		refresher = earnings.NewService(deps.DB, est, deps.Cache, logger)
	} else {
		logger.Warn("未配置FMP API key，跳过财报日历同步")
	}

	sched := scheduler.NewScheduler(scan, deps.Enqueuer(), refresher, scheduler.OptionsFromConfig(cfg), logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("启动调度器失败", zap.Error(err))
	}

	mon := deps.Monitor()
	mon.StartChecking(ctx, app.MonitorInterval)

	<-ctx.Done()
	logger.Info("正在关闭调度器...")
	sched.Stop()
}
