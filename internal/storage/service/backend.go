package service

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/response"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
)

// BackendService 后端池管理 HTTP 服务
type BackendService struct {
	backendUseCase *biz.BackendUseCase
	logger         *zap.Logger
}

// NewBackendService 创建后端服务
func NewBackendService(backendUseCase *biz.BackendUseCase, logger *zap.Logger) *BackendService {
	return &BackendService{
		backendUseCase: backendUseCase,
		logger:         logger,
	}
}

// RegisterBackend 注册新的存储凭证
func (s *BackendService) RegisterBackend(c *gin.Context) {
	userID := c.GetString("user_id")

	var req RegisterBackendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	backend, err := s.backendUseCase.Register(c.Request.Context(), userID, req.Credential)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Created(c, toBackendResponse(backend))
}

// ListBackends 列出自己的后端
func (s *BackendService) ListBackends(c *gin.Context) {
	userID := c.GetString("user_id")

	backends, err := s.backendUseCase.List(c.Request.Context(), userID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*BackendResponse, len(backends))
	for i, b := range backends {
		items[i] = toBackendResponse(b)
	}
	response.Success(c, gin.H{"backends": items, "total": len(items)})
}

// DeactivateBackend 软停用后端
func (s *BackendService) DeactivateBackend(c *gin.Context) {
	userID := c.GetString("user_id")
	backendID := c.Param("id")

	if err := s.backendUseCase.Deactivate(c.Request.Context(), userID, backendID); err != nil {
		response.HandleError(c, err)
		return
	}

	s.logger.Info("backend deactivated via api", zap.String("backend_id", backendID))
	response.Success(c, gin.H{"message": "backend deactivated"})
}

// ProbeBackend 手动触发一次健康探测
func (s *BackendService) ProbeBackend(c *gin.Context) {
	backendID := c.Param("id")

	status, err := s.backendUseCase.CheckHealth(c.Request.Context(), backendID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, gin.H{"backend_id": backendID, "health_status": status})
}

// RegisterRoutes 注册后端管理路由
func (s *BackendService) RegisterRoutes(r *gin.RouterGroup) {
	backends := r.Group("/backends")
	{
		backends.POST("", s.RegisterBackend)
		backends.GET("", s.ListBackends)
		backends.DELETE("/:id", s.DeactivateBackend)
		backends.POST("/:id/probe", s.ProbeBackend)
	}
}
