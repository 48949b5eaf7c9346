package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"FilingRadar/pkg/api"
	"FilingRadar/pkg/app"
	"FilingRadar/pkg/earnings"
)

func main() {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("启动API服务失败: %v\n", err)
	}
	logger.Info("启动API服务...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 重处理需要发布任务，所以API也连接NATS
	deps, err := app.Open(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("初始化依赖失败", zap.Error(err))
	}
	defer deps.Close()

	// 读取财报日历不需要数据源
	calendar := earnings.NewService(deps.DB, nil, deps.Cache, logger)

	mon := deps.Monitor()
	mon.StartChecking(ctx, app.MonitorInterval)

	handlers := api.NewHandlers(deps.DB, deps.Cache, calendar, deps.Enqueuer(), mon, logger)
	server := api.NewServer(cfg, logger)
	server.SetupRoutes(handlers)
	if err := server.Run(ctx); err != nil {
		logger.Error("API服务异常退出", zap.Error(err))
	}
}
