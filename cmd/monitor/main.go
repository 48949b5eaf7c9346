package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"FilingRadar/pkg/app"
	"FilingRadar/pkg/monitor"
)

func main() {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}
	logger.Info("启动监控服务...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// NATS不可用时监控服务本身仍要能启动
	deps, err := app.Open(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("初始化依赖失败", zap.Error(err))
	}
	defer deps.Close()

	mon := deps.Monitor()
	apiURL := fmt.Sprintf("http://localhost:%s/health", cfg.API.Port)
	mon.Register("api-service", monitor.HTTPCheck(nil, apiURL, ""))
	mon.StartChecking(ctx, app.MonitorInterval)

	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		code := http.StatusOK
		if !mon.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, mon.GetAllStatus())
	})

	// 监控服务端口
	port := os.Getenv("MONITOR_PORT")
	if port == "" {
		port = "8081"
	}
	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("监控服务启动", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("启动HTTP服务器失败", zap.Error(err))
	}
}
