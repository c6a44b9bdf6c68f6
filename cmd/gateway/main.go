package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/app"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/utils"
)

var configFile = flag.String("config", config.DefaultConfigPath, "配置文件路径")

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置文件，不存在时按默认值生成
	if err := config.Load(*configFile); err != nil {
		fmt.Printf("加载配置文件失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.GetConfig()

	// 初始化日志
	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("初始化日志系统失败: %v\n", err)
		os.Exit(1)
	}
	utils.SetupZinxLogger()

	logger.Info("JT808网关启动中...")

	serviceManager := app.NewServiceManager(cfg)
	if err := serviceManager.Init(); err != nil {
		logger.Errorf("初始化服务管理器失败: %v", err)
		os.Exit(1)
	}
	serviceManager.Start()

	// 等待中断信号或HTTP服务异常
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.WithField("signal", sig.String()).Info("收到退出信号")
	case err, ok := <-serviceManager.HTTPErrors():
		if ok && err != nil {
			logger.Errorf("HTTP服务异常，网关退出: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := serviceManager.Shutdown(ctx); err != nil {
		logger.Errorf("关闭服务管理器失败: %v", err)
	}

	logger.Info("JT808网关已安全关闭")
}
