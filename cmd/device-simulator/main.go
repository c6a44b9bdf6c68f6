package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/sirupsen/logrus"
)

var (
	deviceAddr  = flag.String("addr", "127.0.0.1:20888", "网关终端接入地址")
	forwardAddr = flag.String("forward", "", "以转发方身份连接该地址，不为空时不模拟终端")
	sims        = flag.String("sim", "13800138000", "终端手机号，转发模式下可用逗号分隔多个")
	count       = flag.Int("count", 10, "位置汇报次数")
	interval    = flag.Duration("interval", 5*time.Second, "位置汇报间隔")
	is2019      = flag.Bool("2019", false, "使用2019版消息头")
	debug       = flag.Bool("debug", false, "输出收发数据")
)

func main() {
	flag.Parse()
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	stop := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		close(stop)
	}()

	list := strings.Split(*sims, ",")
	var err error
	if *forwardAddr != "" {
		err = runForwarder(*forwardAddr, list, stop)
	} else {
		err = runDevice(*deviceAddr, strings.TrimSpace(list[0]), stop)
	}
	if err != nil {
		logger.WithField("error", err.Error()).Error("模拟器退出")
		os.Exit(1)
	}
}
