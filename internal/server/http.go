package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/relaydrive-backend/internal/auth/middleware"
	"github.com/lk2023060901/relaydrive-backend/internal/conf"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/metrics"
	pkgredis "github.com/lk2023060901/relaydrive-backend/internal/pkg/redis"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/service"
	"go.uber.org/zap"
)

// HTTPServer 文件网关 HTTP 服务器
type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

// NewHTTPServer 组装路由与中间件
func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	fileService *service.FileService,
	backendService *service.BackendService,
	m *metrics.Metrics,
	redisClient *pkgredis.Client,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinLogger(log))

	// 健康检查与指标不走认证
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", m.Handler())

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(config.Auth.JWTSecret, log))
	api.Use(middleware.APIRateLimiter(redisClient, log))

	backendService.RegisterRoutes(api)
	// 分块上传端点单独收紧：每个分块都占用中继调用配额
	fileService.RegisterRoutes(api, middleware.UploadRateLimiter(redisClient, log))

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: log,
	}
}

// Start 启动 HTTP 服务
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop 优雅停机
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
