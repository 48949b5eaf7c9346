package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"FilingRadar/pkg/app"
	"FilingRadar/pkg/notify"
	"FilingRadar/pkg/tasks"
)

func main() {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("启动worker失败: %v\n", err)
	}
	logger.Info("启动申报处理worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("初始化依赖失败", zap.Error(err))
	}
	defer deps.Close()

	pipeline, err := deps.Pipeline(ctx)
	if err != nil {
		logger.Fatal("创建处理流水线失败", zap.Error(err))
	}
	notifier := notify.NewNotifier(deps.NATS, deps.DB.Notification(), cfg.Features.Notifications, logger)

	worker := tasks.NewWorker(pipeline, deps.DB, notifier, deps.NATS, tasks.WorkerOptions{
		Concurrency:   cfg.Worker.Concurrency,
		RatePerMinute: cfg.Worker.RatePerMinute,
		HardTimeout:   cfg.Worker.HardTimeout,
	}, logger)

	mon := deps.Monitor()
	mon.StartChecking(ctx, app.MonitorInterval)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker异常退出", zap.Error(err))
	}
	logger.Info("worker已停止")
}
