package ports

import (
	"context"
	"errors"
	"net/http"
	"time"

	httpapi "github.com/bujia-iot/jt808-gateway/internal/adapter/http"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HTTPServer 指令下发与状态查询接口
type HTTPServer struct {
	srv *http.Server
}

// NewHTTPServer 创建HTTP服务器
func NewHTTPServer(addr string, handlers *httpapi.HandlerContext) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	httpapi.RegisterRoutes(r, handlers)

	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start 在后台监听，监听失败时通过返回的通道报告
func (s *HTTPServer) Start() <-chan error {
	errCh := make(chan error, 1)
	logger.Infof("HTTP API服务器启动在 %s", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err.Error()).Error("HTTP API服务器异常退出")
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown 优雅关闭，等待进行中的指令请求结束
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"clientIP": c.ClientIP(),
			"cost":     time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}
