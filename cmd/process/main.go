// process 同步处理单个filing，用于运维重跑
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"FilingRadar/pkg/app"
	"FilingRadar/pkg/model"
	"FilingRadar/pkg/tasks"
)

func main() {
	accession := flag.String("accession", "", "accession number，如 0000320193-24-000123")
	noAI := flag.Bool("no-ai", false, "跳过AI分析")
	flag.Parse()
	if *accession == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}
	if *noAI {
		cfg.Features.AIProcessing = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 同步执行，不连接NATS，失败不会自动重试
	deps, err := app.Open(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("初始化依赖失败", zap.Error(err))
	}
	defer deps.Close()

	filing, err := deps.DB.Filing().GetByAccession(ctx, *accession)
	if err != nil {
		logger.Fatal("查询filing失败", zap.String("accession", *accession), zap.Error(err))
	}
	if filing.Status.IsInFlight() {
		logger.Fatal("filing正在处理中", zap.String("status", string(filing.Status)))
	}
	if filing.Status != model.StatusPending {
		if err := deps.DB.Filing().Reset(ctx, filing.ID); err != nil {
			logger.Fatal("重置filing失败", zap.Error(err))
		}
	}

	pipeline, err := deps.Pipeline(ctx)
	if err != nil {
		logger.Fatal("创建处理流水线失败", zap.Error(err))
	}

	out := pipeline.ProcessFiling(ctx, filing.ID, 0)
	fmt.Printf("%s %s: %s\n", filing.AccessionNumber, filing.FilingType, out.Kind)
	if out.Err != nil {
		fmt.Printf("错误: %v\n", out.Err)
	}
	if out.Kind != tasks.OutcomeCompleted {
		deps.Close()
		os.Exit(1)
	}
}
